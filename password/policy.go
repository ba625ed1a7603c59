package password

import (
	"fmt"
	"strings"
	"unicode"
)

// Requirements configures the hard gates applied by Validate. Zero values are
// replaced by DefaultRequirements at construction.
type Requirements struct {
	MinLength           int
	MaxLength           int
	RequireUppercase    bool
	RequireLowercase    bool
	RequireNumbers      bool
	RequireSpecialChars bool
	MinStrengthScore    int
}

// DefaultRequirements mirrors the deployed policy: lowercase only as a hard
// class requirement, minimum score 1 of 5.
func DefaultRequirements() Requirements {
	return Requirements{
		MinLength:        6,
		MaxLength:        128,
		RequireLowercase: true,
		MinStrengthScore: 1,
	}
}

// commonPasswords is an exact-match (case-insensitive) deny list of passwords
// seen in every breach corpus.
var commonPasswords = []string{
	"password", "123456", "password123", "admin", "qwerty", "letmein",
	"welcome", "monkey", "1234567890", "password1", "abc123", "admin123",
	"user123", "guest", "root", "toor", "pass", "12345", "test", "temp",
}

// Result is the outcome of Validate. Errors are blocking; Warnings flag
// weak patterns without failing validation. Score ranges 0 (weakest) to 5.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Score    int
}

// Policy validates password strength against a set of Requirements.
// Safe for concurrent use; all state is immutable after construction.
type Policy struct {
	req    Requirements
	common map[string]struct{}
}

// NewPolicy creates a Policy. Zero-valued requirement fields fall back to
// DefaultRequirements.
func NewPolicy(req Requirements) *Policy {
	def := DefaultRequirements()
	if req.MinLength <= 0 {
		req.MinLength = def.MinLength
	}
	if req.MaxLength <= 0 {
		req.MaxLength = def.MaxLength
	}
	if req.MinStrengthScore <= 0 {
		req.MinStrengthScore = def.MinStrengthScore
	}

	common := make(map[string]struct{}, len(commonPasswords))
	for _, p := range commonPasswords {
		common[p] = struct{}{}
	}

	return &Policy{req: req, common: common}
}

// Validate applies the hard requirements, the common-password deny list, and
// the strength score. Validation errors carry user-facing messages; there is
// no enumeration risk in password feedback, so they stay detailed.
func (p *Policy) Validate(password string) Result {
	var res Result

	if password == "" {
		res.Errors = append(res.Errors, "Password is required")
		return res
	}

	if len(password) < p.req.MinLength {
		res.Errors = append(res.Errors, fmt.Sprintf("Password must be at least %d characters long", p.req.MinLength))
	}
	if len(password) > p.req.MaxLength {
		res.Errors = append(res.Errors, fmt.Sprintf("Password must not exceed %d characters", p.req.MaxLength))
	}

	classes := classify(password)
	if p.req.RequireUppercase && !classes.upper {
		res.Errors = append(res.Errors, "Password must contain at least one uppercase letter")
	}
	if p.req.RequireLowercase && !classes.lower {
		res.Errors = append(res.Errors, "Password must contain at least one lowercase letter")
	}
	if p.req.RequireNumbers && !classes.digit {
		res.Errors = append(res.Errors, "Password must contain at least one number")
	}
	if p.req.RequireSpecialChars && !classes.symbol {
		res.Errors = append(res.Errors, "Password must contain at least one special character")
	}

	if _, found := p.common[strings.ToLower(password)]; found {
		res.Errors = append(res.Errors, "Password is too common. Please choose a more secure password")
	}

	if hasRepeatedRun(password, 3) {
		res.Warnings = append(res.Warnings, `Avoid repeating characters (e.g., "aaa")`)
	}
	if hasSequentialFragment(password) {
		res.Warnings = append(res.Warnings, "Avoid sequential characters")
	}

	res.Score = Score(password)
	if res.Score < p.req.MinStrengthScore {
		res.Errors = append(res.Errors, fmt.Sprintf("Password strength is too weak (%d/5). Please use a stronger password", res.Score))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// Score computes a 0..5 strength score from length tiers, character-class
// diversity, and unique-character ratio.
func Score(password string) int {
	score := 0

	if len(password) >= 8 {
		score++
	}
	if len(password) >= 12 {
		score++
	}
	if len(password) >= 16 {
		score++
	}

	classes := classify(password)
	if classes.lower && classes.upper {
		score++
	}
	if classes.digit {
		score++
	}
	if classes.symbol {
		score++
	}

	unique := make(map[rune]struct{}, len(password))
	for _, r := range password {
		unique[r] = struct{}{}
	}
	if float64(len(unique)) >= float64(len([]rune(password)))*0.6 {
		score++
	}

	if score > 5 {
		score = 5
	}
	return score
}

type charClasses struct {
	upper, lower, digit, symbol bool
}

func classify(s string) charClasses {
	var c charClasses
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		default:
			c.symbol = true
		}
	}
	return c
}

func hasRepeatedRun(s string, runLength int) bool {
	run := 1
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
			if run >= runLength {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}

func hasSequentialFragment(s string) bool {
	lower := strings.ToLower(s)
	for _, fragment := range []string{"123", "abc", "qwe"} {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
