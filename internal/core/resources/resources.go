// Package resources declares the managed resources of a deployment.
//
// This package contains the static, declarative half of a run: pure functions
// that turn a RunConfig into resource specs. Provisioners in the imperative
// shell (internal/shell/gcloud) turn specs into deferred attributes.
//
// # Resources
//
//   - ServiceAccount: identity the deployed service runs as
//   - IAMMember: project role granted to the service account
//   - Registry: image repository the workload image is published to
//   - Service: managed compute service running the published image
//   - ServiceInvoker: public invoker binding on the service
package resources

import (
	"fmt"

	"github.com/artpar/stackship/internal/core/domain"
)

// =============================================================================
// Spec Types
// =============================================================================

// Kind identifies a resource type.
type Kind string

const (
	KindServiceAccount Kind = "service_account"
	KindIAMMember      Kind = "iam_member"
	KindRegistry       Kind = "registry"
	KindService        Kind = "service"
	KindServiceInvoker Kind = "service_invoker"
)

// Attribute keys set by provisioners once a resource resolves.
const (
	AttrName  = "name"
	AttrEmail = "email"
	AttrHost  = "host"
	AttrURL   = "url"
)

// Attributes are the computed attributes of a provisioned resource.
type Attributes map[string]string

// Get returns the attribute or "" when absent.
func (a Attributes) Get(key string) string {
	return a[key]
}

// Spec is the desired state of one resource.
type Spec interface {
	Kind() Kind
	// Name is the logical resource name, unique per kind.
	Name() string
}

// ServiceAccount is the identity the service runs as.
type ServiceAccount struct {
	Project     string
	AccountID   string
	DisplayName string
	Description string
}

func (ServiceAccount) Kind() Kind { return KindServiceAccount }
func (s ServiceAccount) Name() string { return s.AccountID }

// Email returns the account email derived from project and account id.
func (s ServiceAccount) Email() string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", s.AccountID, s.Project)
}

// IAMMember grants Role on Project to Member.
type IAMMember struct {
	Project string
	Role    string
	Member  string
}

func (IAMMember) Kind() Kind { return KindIAMMember }
func (m IAMMember) Name() string { return m.Member + "/" + m.Role }

// Registry is a docker-format image repository.
type Registry struct {
	Project     string
	Location    string
	RepoName    string
	Description string
}

func (Registry) Kind() Kind { return KindRegistry }
func (r Registry) Name() string { return r.RepoName }

// Service is the managed compute service running the workload image.
type Service struct {
	Project        string
	Region         string
	ServiceName    string
	Image          domain.ImageReference
	ServiceAccount string
	Env            map[string]string
	Secrets        []string // env values masked in logs
	Memory         string
	MinInstances   int
	MaxInstances   int
	TimeoutSeconds int
}

func (Service) Kind() Kind { return KindService }
func (s Service) Name() string { return s.ServiceName }

// ServiceInvoker grants Role on a service to Member.
type ServiceInvoker struct {
	Project     string
	Region      string
	ServiceName string
	Role        string
	Member      string
}

func (ServiceInvoker) Kind() Kind { return KindServiceInvoker }
func (i ServiceInvoker) Name() string { return i.ServiceName + "/" + i.Member }

// =============================================================================
// Declarations
// =============================================================================

// DefaultServiceAccountRoles are granted when the config names none.
var DefaultServiceAccountRoles = []string{
	"roles/logging.logWriter",
	"roles/monitoring.metricWriter",
}

// ServiceAccountFor declares the workload service account.
func ServiceAccountFor(cfg domain.RunConfig) ServiceAccount {
	return ServiceAccount{
		Project:     cfg.ProjectID,
		AccountID:   cfg.ServiceAccountID,
		DisplayName: fmt.Sprintf("%s service account", cfg.ServiceName),
		Description: fmt.Sprintf("Service account for %s", cfg.ServiceName),
	}
}

// IAMMembersFor declares the project roles of the service account, in config order.
func IAMMembersFor(cfg domain.RunConfig, email string) []IAMMember {
	roles := cfg.ServiceAccountRoles
	if len(roles) == 0 {
		roles = DefaultServiceAccountRoles
	}
	members := make([]IAMMember, 0, len(roles))
	for _, role := range roles {
		members = append(members, IAMMember{
			Project: cfg.ProjectID,
			Role:    role,
			Member:  "serviceAccount:" + email,
		})
	}
	return members
}

// RegistryFor declares the image repository. The repository is named after the image.
func RegistryFor(cfg domain.RunConfig) Registry {
	return Registry{
		Project:     cfg.ProjectID,
		Location:    cfg.Region,
		RepoName:    cfg.ImageName,
		Description: fmt.Sprintf("Container images for %s", cfg.ServiceName),
	}
}

// ServiceFor declares the managed service running image as serviceAccountEmail.
func ServiceFor(cfg domain.RunConfig, image domain.ImageReference, serviceAccountEmail string) Service {
	return Service{
		Project:        cfg.ProjectID,
		Region:         cfg.Region,
		ServiceName:    cfg.ServiceName,
		Image:          image,
		ServiceAccount: serviceAccountEmail,
		Env:            cfg.WorkloadEnv(),
		Secrets:        cfg.Workload.SecretValues(),
		Memory:         cfg.Sizing.Memory,
		MinInstances:   cfg.Sizing.MinInstances,
		MaxInstances:   cfg.Sizing.MaxInstances,
		TimeoutSeconds: cfg.Sizing.TimeoutSeconds,
	}
}

// InvokerFor declares unauthenticated access to the service.
func InvokerFor(cfg domain.RunConfig) ServiceInvoker {
	return ServiceInvoker{
		Project:     cfg.ProjectID,
		Region:      cfg.Region,
		ServiceName: cfg.ServiceName,
		Role:        "roles/run.invoker",
		Member:      "allUsers",
	}
}
