package network

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/store"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

var ingressIdentifier = regexp.MustCompile(`^[-_a-z0-9]{5,255}$`)

// IngressValidator checks requested domains against the configured naming rules.
type IngressValidator struct {
	prefix   string
	suffix   string
	denylist []string
}

func NewIngressValidator(config configuration.IngressConfig) *IngressValidator {
	denylist := make([]string, 0, len(config.Denylist))
	for _, word := range config.Denylist {
		denylist = append(denylist, strings.ToLower(word))
	}
	return &IngressValidator{
		prefix:   strings.ToLower(config.Prefix),
		suffix:   strings.ToLower(config.Suffix),
		denylist: denylist,
	}
}

// Validate returns the normalized (lower case) domain, or an *uclouderrors.ErrInvalidArgument explaining why the
// domain is not allowed.
func (v *IngressValidator) Validate(domain string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(domain))
	invalid := func(message string) error {
		return errors.WithStack(&uclouderrors.ErrInvalidArgument{Name: "domain", Value: domain, Message: message})
	}

	if !strings.HasPrefix(normalized, v.prefix) {
		return "", invalid("domain must start with " + v.prefix)
	}
	if !strings.HasSuffix(normalized, v.suffix) || len(normalized) < len(v.prefix)+len(v.suffix) {
		return "", invalid("domain must end with " + v.suffix)
	}
	id := normalized[len(v.prefix) : len(normalized)-len(v.suffix)]

	if len(id) < 5 {
		return "", invalid("domain is too short, at least 5 characters are required")
	}
	if !ingressIdentifier.MatchString(id) {
		return "", invalid("domain may only contain letters, digits, hyphens and underscores")
	}
	for _, word := range v.denylist {
		if strings.Contains(id, word) {
			return "", invalid("domain contains the word " + word + " which is not allowed")
		}
	}
	if _, err := uuid.Parse(id); err == nil {
		return "", invalid("domain must not be a UUID")
	}
	return normalized, nil
}

// IngressService manages the ingress domains owned by users. Binding to jobs is done by the ingress plugin.
type IngressService struct {
	validator *IngressValidator
	store     store.IngressStore
	clock     clock.PassiveClock
}

func NewIngressService(validator *IngressValidator, s store.IngressStore, clock clock.PassiveClock) *IngressService {
	return &IngressService{validator: validator, store: s, clock: clock}
}

func (s *IngressService) Validator() *IngressValidator {
	return s.validator
}

func (s *IngressService) Create(ctx context.Context, owner api.Owner, domain string) (*store.Ingress, error) {
	normalized, err := s.validator.Validate(domain)
	if err != nil {
		return nil, err
	}
	ingress := store.Ingress{Domain: normalized, Owner: owner, CreatedAt: s.clock.Now()}
	if err := s.store.InsertIngress(ctx, ingress); err != nil {
		return nil, err
	}
	return &ingress, nil
}

// Delete removes an ingress. Only the owner may delete it, and only while no job is using it.
func (s *IngressService) Delete(ctx context.Context, owner api.Owner, domain string) error {
	ingress, err := s.store.GetIngress(ctx, strings.ToLower(domain))
	if err != nil {
		return err
	}
	if !ingress.Owner.Permits(owner) {
		return errors.WithStack(&uclouderrors.ErrNotFound{Type: "ingress", Value: domain})
	}
	return s.store.DeleteIngress(ctx, ingress.Domain)
}

// Lookup returns the ingress if owner may use it.
func (s *IngressService) Lookup(ctx context.Context, owner api.Owner, domain string) (*store.Ingress, error) {
	ingress, err := s.store.GetIngress(ctx, strings.ToLower(domain))
	if err != nil {
		return nil, err
	}
	if !ingress.Owner.Permits(owner) {
		return nil, errors.WithStack(&uclouderrors.ErrNotFound{Type: "ingress", Value: domain})
	}
	return ingress, nil
}

// Bind attaches an ingress owned by owner to a job. Binding it again to the same job is a no-op.
func (s *IngressService) Bind(ctx context.Context, owner api.Owner, domain string, jobId string) (*store.Ingress, error) {
	ingress, err := s.Lookup(ctx, owner, domain)
	if err != nil {
		return nil, err
	}
	if err := s.store.BindIngress(ctx, ingress.Domain, jobId); err != nil {
		return nil, err
	}
	ingress.BoundTo = jobId
	return ingress, nil
}

// Unbind releases every ingress held by a job.
func (s *IngressService) Unbind(ctx context.Context, jobId string) error {
	return s.store.UnbindIngresses(ctx, jobId)
}
