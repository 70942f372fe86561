package resources

import (
	"testing"
	"time"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() domain.RunConfig {
	return domain.RunConfig{
		ProjectID:        "acme",
		Region:           "europe-west1",
		ServiceName:      "tg-journals-function",
		ImageName:        "tg-journals",
		LocalImage:       "tg-journals:latest",
		ServiceAccountID: "tg-journals-sa",
		TagMode:          domain.TagModeTimestamped,
		KeepCount:        3,
		Workload:         domain.Workload{Credential: "token", Profile: "production"},
		Sizing:           domain.ServiceSizing{Memory: "1Gi", MaxInstances: 10, TimeoutSeconds: 300},
	}
}

func TestServiceAccountFor(t *testing.T) {
	sa := ServiceAccountFor(testConfig())

	assert.Equal(t, KindServiceAccount, sa.Kind())
	assert.Equal(t, "tg-journals-sa", sa.Name())
	assert.Equal(t, "tg-journals-sa@acme.iam.gserviceaccount.com", sa.Email())
	assert.Contains(t, sa.DisplayName, "tg-journals-function")
}

func TestIAMMembersFor_DefaultRoles(t *testing.T) {
	members := IAMMembersFor(testConfig(), "sa@acme.iam.gserviceaccount.com")

	require.Len(t, members, 2)
	assert.Equal(t, "roles/logging.logWriter", members[0].Role)
	assert.Equal(t, "roles/monitoring.metricWriter", members[1].Role)
	for _, m := range members {
		assert.Equal(t, "serviceAccount:sa@acme.iam.gserviceaccount.com", m.Member)
		assert.Equal(t, "acme", m.Project)
		assert.Equal(t, KindIAMMember, m.Kind())
	}
}

func TestIAMMembersFor_ConfiguredRoles(t *testing.T) {
	cfg := testConfig()
	cfg.ServiceAccountRoles = []string{"roles/cloudsql.client"}

	members := IAMMembersFor(cfg, "sa@x")
	require.Len(t, members, 1)
	assert.Equal(t, "serviceAccount:sa@x/roles/cloudsql.client", members[0].Name())
}

func TestRegistryFor(t *testing.T) {
	reg := RegistryFor(testConfig())

	assert.Equal(t, KindRegistry, reg.Kind())
	assert.Equal(t, "tg-journals", reg.Name())
	assert.Equal(t, "europe-west1", reg.Location)
}

func TestServiceFor(t *testing.T) {
	cfg := testConfig()
	image := domain.NewImageReference(cfg.RemoteBase(), "20240115t120000123", time.Now())

	svc := ServiceFor(cfg, image, "sa@acme.iam.gserviceaccount.com")

	assert.Equal(t, KindService, svc.Kind())
	assert.Equal(t, "tg-journals-function", svc.Name())
	assert.Equal(t, image, svc.Image)
	assert.Equal(t, "sa@acme.iam.gserviceaccount.com", svc.ServiceAccount)
	assert.Equal(t, "token", svc.Env["TELEGRAM_BOT_TOKEN"])
	assert.Equal(t, "production", svc.Env["SPRING_PROFILES_ACTIVE"])
	assert.Equal(t, []string{"token"}, svc.Secrets)
	assert.Equal(t, "1Gi", svc.Memory)
	assert.Equal(t, 10, svc.MaxInstances)
	assert.Equal(t, 300, svc.TimeoutSeconds)
}

func TestInvokerFor(t *testing.T) {
	inv := InvokerFor(testConfig())

	assert.Equal(t, KindServiceInvoker, inv.Kind())
	assert.Equal(t, "allUsers", inv.Member)
	assert.Equal(t, "roles/run.invoker", inv.Role)
	assert.Equal(t, "tg-journals-function/allUsers", inv.Name())
}

func TestAttributes_Get(t *testing.T) {
	attrs := Attributes{AttrURL: "https://svc.run.app"}
	assert.Equal(t, "https://svc.run.app", attrs.Get(AttrURL))
	assert.Empty(t, attrs.Get(AttrEmail))
	assert.Empty(t, Attributes(nil).Get(AttrEmail))
}
