package password

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrBreachLookup wraps transport failures of a remote breach lookup.
var ErrBreachLookup = errors.New("breach lookup failed")

// BreachChecker reports whether a password is known to be compromised.
// Results are advisory.
type BreachChecker interface {
	IsBreached(ctx context.Context, password string) (bool, error)
}

// BreachCheckerFunc adapts a function to BreachChecker.
type BreachCheckerFunc func(ctx context.Context, password string) (bool, error)

// IsBreached calls f.
func (f BreachCheckerFunc) IsBreached(ctx context.Context, password string) (bool, error) {
	return f(ctx, password)
}

var commonPasswords = []string{
	"password",
	"12345678",
	"password123",
	"admin",
	"letmein",
	"welcome",
	"monkey",
	"dragon",
	"baseball",
	"iloveyou",
}

// CommonList flags passwords that appear in a fixed list of common passwords.
// Comparison is case-insensitive.
type CommonList struct {
	words map[string]struct{}
}

// NewCommonList returns a checker over words, or the built-in list when words is empty.
func NewCommonList(words ...string) *CommonList {
	if len(words) == 0 {
		words = commonPasswords
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return &CommonList{words: m}
}

// IsBreached implements BreachChecker.
func (c *CommonList) IsBreached(_ context.Context, password string) (bool, error) {
	_, ok := c.words[strings.ToLower(password)]
	return ok, nil
}

// PwnedRange queries a k-anonymity range API (Have I Been Pwned compatible):
// only the first five hex characters of the SHA-1 digest leave the process.
type PwnedRange struct {
	BaseURL string
	Client  *http.Client
	// MinCount is the number of sightings required to flag a password.
	MinCount int
}

// NewPwnedRange returns a checker against baseURL, for example
// "https://api.pwnedpasswords.com/range/".
func NewPwnedRange(baseURL string) *PwnedRange {
	return &PwnedRange{
		BaseURL:  baseURL,
		Client:   &http.Client{Timeout: 3 * time.Second},
		MinCount: 1,
	}
}

// IsBreached implements BreachChecker.
func (p *PwnedRange) IsBreached(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.BaseURL, "/")+"/"+prefix, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBreachLookup, err)
	}
	req.Header.Set("Add-Padding", "true")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBreachLookup, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: status %d", ErrBreachLookup, resp.StatusCode)
	}

	minCount := p.MinCount
	if minCount <= 0 {
		minCount = 1
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		hashSuffix, countStr, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(hashSuffix, suffix) {
			continue
		}
		var count int
		if _, err := fmt.Sscanf(countStr, "%d", &count); err != nil {
			return false, fmt.Errorf("%w: %v", ErrBreachLookup, err)
		}
		return count >= minCount, nil
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBreachLookup, err)
	}
	return false, nil
}

// AnyOf flags a password when any checker does. The first error aborts.
func AnyOf(checkers ...BreachChecker) BreachChecker {
	return BreachCheckerFunc(func(ctx context.Context, password string) (bool, error) {
		for _, c := range checkers {
			if c == nil {
				continue
			}
			breached, err := c.IsBreached(ctx, password)
			if err != nil {
				return false, err
			}
			if breached {
				return true, nil
			}
		}
		return false, nil
	})
}
