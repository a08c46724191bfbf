package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient is a mock ControlClient.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Stop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Reload(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestRunReload(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    string
		wantErr string
	}{
		{name: "success", want: "✓ Configuration reload requested\n"},
		{name: "not running", err: errors.New("node not running"), wantErr: "failed to reload: node not running"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 准备
			client := new(MockClient)
			client.On("Reload", mock.Anything).Return(tt.err)
			var out bytes.Buffer

			// 执行
			err := runReload(context.Background(), client, &out)

			// 断言
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				assert.Empty(t, out.String())
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, out.String())
			}
			client.AssertExpectations(t)
		})
	}
}

func TestRunStop(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    string
		wantErr string
	}{
		{name: "success", want: "✓ Node stopped\n"},
		{name: "timeout", err: context.DeadlineExceeded, wantErr: "failed to stop: context deadline exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockClient)
			client.On("Stop", mock.Anything).Return(tt.err)
			var out bytes.Buffer

			err := runStop(context.Background(), client, &out)

			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				if tt.err != nil {
					assert.ErrorIs(t, err, tt.err)
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, out.String())
			}
			client.AssertExpectations(t)
		})
	}
}

func TestControlCommandsUsePIDFileFlag(t *testing.T) {
	client := new(MockClient)
	client.On("Reload", mock.Anything).Return(nil).Once()
	client.On("Stop", mock.Anything).Return(nil).Once()

	var gotPath []string
	orig := newControlClient
	newControlClient = func(path string) ControlClient {
		gotPath = append(gotPath, path)
		return client
	}
	t.Cleanup(func() {
		newControlClient = orig
		pidFile = ""
	})

	for _, args := range [][]string{
		{"reload", "--pidfile", "/run/meshtel-test.pid"},
		{"stop", "--pidfile", "/run/meshtel-test.pid", "--timeout", "1s"},
	} {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		require.NoError(t, rootCmd.Execute(), "args %v", args)
		assert.Contains(t, out.String(), "✓")
	}
	rootCmd.SetOut(nil)
	rootCmd.SetArgs(nil)

	assert.Equal(t, []string{"/run/meshtel-test.pid", "/run/meshtel-test.pid"}, gotPath)
	client.AssertExpectations(t)
}

func TestControlClientPrefersSocket(t *testing.T) {
	sockClient, pidClient := new(MockClient), new(MockClient)

	origSock, origPID := newSocketClient, newControlClient
	newSocketClient = func(string) ControlClient { return sockClient }
	newControlClient = func(string) ControlClient { return pidClient }
	t.Cleanup(func() {
		newSocketClient, newControlClient = origSock, origPID
		socketPath, pidFile = "", ""
	})

	socketPath, pidFile = "/run/meshtel.sock", "/run/meshtel.pid"
	client, err := controlClient()
	require.NoError(t, err)
	assert.Same(t, sockClient, client)

	socketPath = ""
	client, err = controlClient()
	require.NoError(t, err)
	assert.Same(t, pidClient, client)
}

func TestControlClientRequiresTarget(t *testing.T) {
	pidFile, socketPath, configFile = "", "", ""

	_, err := controlClient()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no control socket or PID file")
}
