package ga4

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
	analyticsadmin "google.golang.org/api/analyticsadmin/v1alpha"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

// AdminConfig configures the Analytics Admin API client
type AdminConfig struct {
	// CredentialsFile is a service account JSON key. When empty, application
	// default credentials are used.
	CredentialsFile string
	// Subject is the user impersonated through domain-wide delegation
	Subject string
	// Timeout bounds every API call
	Timeout time.Duration

	// Endpoint and HTTPClient override transport, mainly for tests
	Endpoint   string
	HTTPClient *http.Client
}

// AdminProvider implements Provider with the Analytics Admin API
type AdminProvider struct {
	svc     *analyticsadmin.Service
	timeout time.Duration
	logger  *logrus.Logger
}

// NewAdminProvider builds an authenticated Admin API client
func NewAdminProvider(ctx context.Context, cfg AdminConfig, logger *logrus.Logger) (*AdminProvider, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read GA4 credentials: %w", err)
		}
		jwt, err := google.JWTConfigFromJSON(data, analyticsadmin.AnalyticsManageUsersScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GA4 credentials: %w", err)
		}
		jwt.Subject = cfg.Subject
		opts = append(opts, option.WithHTTPClient(jwt.Client(ctx)))
	default:
		client, err := google.DefaultClient(ctx, analyticsadmin.AnalyticsManageUsersScope)
		if err != nil {
			return nil, fmt.Errorf("failed to load default GA4 credentials: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(client))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := analyticsadmin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create analytics admin service: %w", err)
	}

	return &AdminProvider{svc: svc, timeout: cfg.Timeout, logger: logger}, nil
}

// GrantAccess implements Provider
func (p *AdminProvider) GrantAccess(ctx context.Context, propertyID, email string, role roles.GA4Role) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	binding := &analyticsadmin.GoogleAnalyticsAdminV1alphaAccessBinding{
		User:  email,
		Roles: []string{RoleName(role)},
	}
	created, err := p.svc.Properties.AccessBindings.Create(propertyParent(propertyID), binding).Context(ctx).Do()
	if err != nil {
		return "", classify("grant", propertyID+"/"+email, err)
	}

	p.logger.WithFields(logrus.Fields{
		"property": propertyID,
		"binding":  created.Name,
		"role":     role,
	}).Info("GA4 access binding created")
	return created.Name, nil
}

// UpdateAccess implements Provider
func (p *AdminProvider) UpdateAccess(ctx context.Context, bindingID string, role roles.GA4Role) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	binding := &analyticsadmin.GoogleAnalyticsAdminV1alphaAccessBinding{
		Name:  bindingID,
		Roles: []string{RoleName(role)},
	}
	if _, err := p.svc.Properties.AccessBindings.Patch(bindingID, binding).Context(ctx).Do(); err != nil {
		return classify("update", bindingID, err)
	}

	p.logger.WithFields(logrus.Fields{"binding": bindingID, "role": role}).Info("GA4 access binding updated")
	return nil
}

// RevokeAccess implements Provider. A missing binding is reported as
// ErrNotFound so callers can treat it as already revoked.
func (p *AdminProvider) RevokeAccess(ctx context.Context, bindingID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.svc.Properties.AccessBindings.Delete(bindingID).Context(ctx).Do(); err != nil {
		return classify("revoke", bindingID, err)
	}

	p.logger.WithField("binding", bindingID).Info("GA4 access binding deleted")
	return nil
}

// ListBindings implements Provider
func (p *AdminProvider) ListBindings(ctx context.Context, propertyID string) ([]Binding, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var out []Binding
	call := p.svc.Properties.AccessBindings.List(propertyParent(propertyID)).PageSize(200)
	err := call.Pages(ctx, func(resp *analyticsadmin.GoogleAnalyticsAdminV1alphaListAccessBindingsResponse) error {
		for _, b := range resp.AccessBindings {
			if b.User == "" {
				continue
			}
			out = append(out, Binding{
				Name:       b.Name,
				PropertyID: PropertyFromBinding(b.Name),
				Email:      b.User,
				Role:       RoleFromNames(b.Roles),
			})
		}
		return nil
	})
	if err != nil {
		return nil, classify("list", propertyID, err)
	}
	return out, nil
}

func classify(op, target string, err error) error {
	kind := ErrRejected

	var apiErr *googleapi.Error
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Code == http.StatusNotFound:
			kind = ErrNotFound
		case apiErr.Code == http.StatusConflict:
			kind = ErrAlreadyGranted
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			kind = ErrTransient
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &netErr):
		kind = ErrTransient
	}

	return &Error{Op: op, Target: target, Kind: kind, Err: err}
}
