package network

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/store"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

func testValidator() *IngressValidator {
	return NewIngressValidator(configuration.IngressConfig{
		Suffix:   ".example",
		Denylist: []string{"login", "admin", "Cloud"},
	})
}

func TestIngressValidator(t *testing.T) {
	tests := map[string]struct {
		domain   string
		expected string
		valid    bool
	}{
		"valid":                 {domain: "my-app-1.example", expected: "my-app-1.example", valid: true},
		"case insensitive":      {domain: "My-App-1.EXAMPLE", expected: "my-app-1.example", valid: true},
		"underscore":            {domain: "my_app.example", expected: "my_app.example", valid: true},
		"denylisted substring":  {domain: "login1234.example", valid: false},
		"denylist ignores case": {domain: "mycloudapp.example", valid: false},
		"too short":             {domain: "ab12.example", valid: false},
		"too short, no suffix":  {domain: "ab12", valid: false},
		"missing suffix":        {domain: "my-app-1.other", valid: false},
		"invalid characters":    {domain: "my.app.example", valid: false},
		"uuid":                  {domain: "3f2504e0-4f89-11d3-9a0c-0305e82c3301.example", valid: false},
		"only suffix":           {domain: ".example", valid: false},
	}
	validator := testValidator()
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			normalized, err := validator.Validate(tc.domain)
			if tc.valid {
				require.NoError(t, err)
				assert.Equal(t, tc.expected, normalized)
			} else {
				var invalidArgument *uclouderrors.ErrInvalidArgument
				assert.True(t, errors.As(err, &invalidArgument), "expected invalid argument, got %v", err)
			}
		})
	}
}

func TestIngressValidator_Prefix(t *testing.T) {
	validator := NewIngressValidator(configuration.IngressConfig{Prefix: "app-", Suffix: ".cloud.example"})
	normalized, err := validator.Validate("app-my-app-1.cloud.example")
	require.NoError(t, err)
	assert.Equal(t, "app-my-app-1.cloud.example", normalized)

	_, err = validator.Validate("my-app-1.cloud.example")
	assert.Error(t, err)
}

func TestIngressService(t *testing.T) {
	ctx := context.Background()
	alice := api.Owner{CreatedBy: "alice"}
	bob := api.Owner{CreatedBy: "bob"}
	s := store.NewMemoryStore()
	service := NewIngressService(testValidator(), s, clocktesting.NewFakeClock(time.UnixMilli(5000)))

	ingress, err := service.Create(ctx, alice, "My-App.example")
	require.NoError(t, err)
	assert.Equal(t, "my-app.example", ingress.Domain)
	assert.Equal(t, time.UnixMilli(5000), ingress.CreatedAt)

	_, err = service.Create(ctx, bob, "my-app.example")
	assert.Equal(t, 409, uclouderrors.HttpStatusFromError(err))

	_, err = service.Create(ctx, bob, "admin-panel.example")
	assert.Equal(t, 400, uclouderrors.HttpStatusFromError(err))

	_, err = service.Lookup(ctx, bob, "my-app.example")
	assert.Equal(t, 404, uclouderrors.HttpStatusFromError(err))
	assert.Equal(t, 404, uclouderrors.HttpStatusFromError(service.Delete(ctx, bob, "my-app.example")))

	found, err := service.Lookup(ctx, alice, "MY-APP.example")
	require.NoError(t, err)
	assert.Equal(t, alice, found.Owner)

	require.NoError(t, service.Delete(ctx, alice, "my-app.example"))
	_, err = service.Lookup(ctx, alice, "my-app.example")
	assert.Equal(t, 404, uclouderrors.HttpStatusFromError(err))
}

func TestIngressService_Bind(t *testing.T) {
	ctx := context.Background()
	team := api.Owner{CreatedBy: "alice", Project: "p1"}
	s := store.NewMemoryStore()
	service := NewIngressService(testValidator(), s, clocktesting.NewFakeClock(time.UnixMilli(0)))

	_, err := service.Create(ctx, team, "my-app.example")
	require.NoError(t, err)

	bound, err := service.Bind(ctx, api.Owner{CreatedBy: "bob", Project: "p1"}, "my-app.example", "1")
	require.NoError(t, err)
	assert.Equal(t, "1", bound.BoundTo)

	_, err = service.Bind(ctx, team, "my-app.example", "1")
	assert.NoError(t, err)

	_, err = service.Bind(ctx, team, "my-app.example", "2")
	assert.Equal(t, 409, uclouderrors.HttpStatusFromError(err))

	_, err = service.Bind(ctx, api.Owner{CreatedBy: "alice"}, "my-app.example", "3")
	assert.Equal(t, 404, uclouderrors.HttpStatusFromError(err))

	assert.Equal(t, 409, uclouderrors.HttpStatusFromError(service.Delete(ctx, team, "my-app.example")))

	require.NoError(t, service.Unbind(ctx, "1"))
	_, err = service.Bind(ctx, team, "my-app.example", "2")
	assert.NoError(t, err)
}
