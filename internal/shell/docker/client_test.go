package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/artpar/stackship/internal/shell/command"
	"github.com/artpar/stackship/internal/shell/command/commandtest"
	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRemote = "europe-west1-docker.pkg.dev/acme/tg-journals/tg-journals:20240115t120000123"

// =============================================================================
// Test Helpers
// =============================================================================

func skipIfNoDocker(t *testing.T) *SDKTool {
	t.Helper()
	tool, err := NewSDKTool(context.Background(), "", nil, nil)
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	return tool
}

// =============================================================================
// Fake Engine API
// =============================================================================

type fakeImageAPI struct {
	mu sync.Mutex

	images     []image.Summary
	listErr    error
	listFilter string
	tagErr     error
	tagged     [][2]string
	pushStream string
	pushErr    error
	pushed     []string
	pushAuth   string
}

func (f *fakeImageAPI) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if refs := options.Filters.Get("reference"); len(refs) > 0 {
		f.listFilter = refs[0]
	}
	return f.images, f.listErr
}

func (f *fakeImageAPI) ImageTag(ctx context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagged = append(f.tagged, [2]string{source, target})
	return f.tagErr
}

func (f *fakeImageAPI) ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, ref)
	f.pushAuth = options.RegistryAuth
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	return io.NopCloser(strings.NewReader(f.pushStream)), nil
}

func (f *fakeImageAPI) Close() error { return nil }

type staticToken struct {
	token string
	err   error
}

func (s staticToken) AccessToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

// =============================================================================
// SDK Tool Tests
// =============================================================================

func TestSDKTool_LocalImageID(t *testing.T) {
	api := &fakeImageAPI{images: []image.Summary{{ID: "sha256:abc"}}}
	tool := NewSDKToolWithAPI(api, nil, nil)

	id, err := tool.LocalImageID(context.Background(), "tg-journals:latest")
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", id)
	assert.Equal(t, "tg-journals:latest", api.listFilter)
}

func TestSDKTool_LocalImageIDMissing(t *testing.T) {
	tool := NewSDKToolWithAPI(&fakeImageAPI{}, nil, nil)

	id, err := tool.LocalImageID(context.Background(), "tg-journals:latest")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSDKTool_LocalImageIDDaemonError(t *testing.T) {
	tool := NewSDKToolWithAPI(&fakeImageAPI{listErr: errors.New("connection refused")}, nil, nil)

	_, err := tool.LocalImageID(context.Background(), "tg-journals:latest")
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestSDKTool_Tag(t *testing.T) {
	api := &fakeImageAPI{}
	tool := NewSDKToolWithAPI(api, nil, nil)

	require.NoError(t, tool.Tag(context.Background(), "tg-journals:latest", testRemote))
	assert.Equal(t, [][2]string{{"tg-journals:latest", testRemote}}, api.tagged)

	api.tagErr = errors.New("boom")
	assert.ErrorIs(t, tool.Tag(context.Background(), "tg-journals:latest", testRemote), ErrTagFailed)
}

func TestSDKTool_PushRequiresAuthenticate(t *testing.T) {
	api := &fakeImageAPI{}
	tool := NewSDKToolWithAPI(api, staticToken{token: "t0k"}, nil)

	err := tool.Push(context.Background(), testRemote)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Empty(t, api.pushed)
}

func TestSDKTool_AuthenticateAndPush(t *testing.T) {
	api := &fakeImageAPI{pushStream: `{"status":"Pushing"}` + "\n" + `{"status":"Pushed"}` + "\n"}
	tool := NewSDKToolWithAPI(api, staticToken{token: "t0k"}, nil)
	ctx := context.Background()

	require.NoError(t, tool.Authenticate(ctx, "europe-west1-docker.pkg.dev"))
	require.NoError(t, tool.Push(ctx, testRemote))

	assert.Equal(t, []string{testRemote}, api.pushed)

	raw, err := base64.URLEncoding.DecodeString(api.pushAuth)
	require.NoError(t, err)
	var auth map[string]any
	require.NoError(t, json.Unmarshal(raw, &auth))
	assert.Equal(t, TokenUser, auth["username"])
	assert.Equal(t, "t0k", auth["password"])
	assert.Equal(t, "europe-west1-docker.pkg.dev", auth["serveraddress"])
}

func TestSDKTool_PushStreamError(t *testing.T) {
	api := &fakeImageAPI{pushStream: `{"status":"Pushing"}` + "\n" +
		`{"errorDetail":{"message":"denied: permission denied"},"error":"denied: permission denied"}` + "\n"}
	tool := NewSDKToolWithAPI(api, staticToken{token: "t0k"}, nil)
	ctx := context.Background()

	require.NoError(t, tool.Authenticate(ctx, "europe-west1-docker.pkg.dev"))
	err := tool.Push(ctx, testRemote)
	assert.ErrorIs(t, err, ErrPushFailed)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestSDKTool_AuthenticateTokenFailure(t *testing.T) {
	tokenErr := &command.Error{Command: command.Command{Executable: "gcloud"}, ExitCode: 1}
	tool := NewSDKToolWithAPI(&fakeImageAPI{}, staticToken{err: tokenErr}, nil)

	err := tool.Authenticate(context.Background(), "europe-west1-docker.pkg.dev")
	require.Error(t, err)
	assert.Equal(t, 1, command.ExitCode(err))
}

func TestSDKTool_Integration_MissingImage(t *testing.T) {
	tool := skipIfNoDocker(t)
	defer tool.Close()

	id, err := tool.LocalImageID(context.Background(), "stackship-test-absent:never")
	require.NoError(t, err)
	assert.Empty(t, id)
}

// =============================================================================
// CLI Tool Tests
// =============================================================================

func TestCLITool_LocalImageID(t *testing.T) {
	runner := commandtest.NewRunner().
		On("docker images -q tg-journals:latest", commandtest.Response{Stdout: "0123abcd\n0123abcd\n"})
	tool := NewCLITool(runner)

	id, err := tool.LocalImageID(context.Background(), "tg-journals:latest")
	require.NoError(t, err)
	assert.Equal(t, "0123abcd", id)
}

func TestCLITool_LocalImageIDAbsent(t *testing.T) {
	tool := NewCLITool(commandtest.NewRunner())

	id, err := tool.LocalImageID(context.Background(), "tg-journals:latest")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestCLITool_TagAndPush(t *testing.T) {
	runner := commandtest.NewRunner()
	tool := NewCLITool(runner)
	ctx := context.Background()

	require.NoError(t, tool.Tag(ctx, "tg-journals:latest", testRemote))
	require.NoError(t, tool.Push(ctx, testRemote))

	assert.Equal(t, []string{
		"docker tag tg-journals:latest " + testRemote,
		"docker push " + testRemote,
	}, runner.Calls())
}

func TestCLITool_PushFailureKeepsExitStatus(t *testing.T) {
	runner := commandtest.NewRunner().
		On("docker push", commandtest.Response{ExitCode: 1, Stderr: "unauthorized"})
	tool := NewCLITool(runner)

	err := tool.Push(context.Background(), testRemote)
	require.Error(t, err)
	assert.Equal(t, 1, command.ExitCode(err))

	var dockerErr *DockerError
	require.True(t, errors.As(err, &dockerErr))
	assert.Equal(t, "Push", dockerErr.Op)
}
