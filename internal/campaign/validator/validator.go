// Package validator decides whether a lead's email address can receive mail.
//
// Validation runs three checks in order and stops at the first failure:
// address syntax, domain resolution (at least one address record) and
// mail-exchange records. Lookup errors and timeouts count as failed checks.
// Optional Checks run only on an otherwise valid address and can only reject it.
package validator

import (
	"context"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
)

const defaultLookupTimeout = 5 * time.Second

// Rejection reasons recorded on invalid results
const (
	ReasonSyntax = "invalid syntax"
	ReasonDomain = "domain does not resolve"
	ReasonMX     = "domain has no mail exchange records"
)

var addressPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@(?:[A-Za-z0-9-]+\.)+[A-Za-z]{2,}$`)

// Resolver performs the DNS lookups. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Check is a supplementary rule applied after syntax, domain and MX pass
type Check interface {
	Name() string
	Allow(address, domain string) bool
}

// CheckFunc adapts a function to the Check interface
type CheckFunc struct {
	CheckName string
	Fn        func(address, domain string) bool
}

func (c CheckFunc) Name() string                      { return c.CheckName }
func (c CheckFunc) Allow(address, domain string) bool { return c.Fn(address, domain) }

// Config holds validator configuration
type Config struct {
	Resolver      Resolver
	LookupTimeout time.Duration
	Checks        []Check
	Logger        *slog.Logger
}

// Validator validates email addresses. It holds no mutable state and is
// safe for concurrent use.
type Validator struct {
	resolver      Resolver
	lookupTimeout time.Duration
	checks        []Check
	logger        *slog.Logger
}

// New creates a new Validator
func New(cfg *Config) *Validator {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Validator{
		resolver:      resolver,
		lookupTimeout: timeout,
		checks:        cfg.Checks,
		logger:        logger,
	}
}

// Validate runs the syntax, domain and MX checks on address
func (v *Validator) Validate(ctx context.Context, address string) domain.ValidationResult {
	address = strings.TrimSpace(address)
	result := domain.ValidationResult{EmailAddress: address}

	if !CheckSyntax(address) {
		result.Reason = ReasonSyntax
		return result
	}
	result.SyntaxOK = true

	host := Domain(address)

	if !v.hasAddressRecord(ctx, host) {
		result.Reason = ReasonDomain
		return result
	}
	result.DomainOK = true

	if !v.hasMXRecord(ctx, host) {
		result.Reason = ReasonMX
		return result
	}
	result.MXOK = true
	result.Valid = true

	for _, check := range v.checks {
		if !check.Allow(address, host) {
			v.logger.Debug("Address rejected by check",
				slog.String("email", address),
				slog.String("check", check.Name()),
			)
			return result.Invalidate(check.Name())
		}
	}

	return result
}

// CheckSyntax reports whether address has the form local-part@domain
func CheckSyntax(address string) bool {
	return addressPattern.MatchString(address)
}

// Domain returns the lower-cased domain portion of address
func Domain(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

func (v *Validator) hasAddressRecord(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()

	addrs, err := v.resolver.LookupHost(ctx, host)
	if err != nil {
		v.logger.Debug("Domain lookup failed",
			slog.String("domain", host),
			slog.Any("error", err),
		)
		return false
	}
	return len(addrs) > 0
}

func (v *Validator) hasMXRecord(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()

	records, err := v.resolver.LookupMX(ctx, host)
	if err != nil {
		v.logger.Debug("MX lookup failed",
			slog.String("domain", host),
			slog.Any("error", err),
		)
		return false
	}
	return len(records) > 0
}
