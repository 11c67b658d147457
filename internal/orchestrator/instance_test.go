package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

type exitRecord struct {
	inst *Instance
	err  error
}

func startTestInstance(t *testing.T, handler http.Handler, drain time.Duration) (*Instance, <-chan exitRecord) {
	t.Helper()

	inst := newInstance(1, domain.Network{Name: "test"}, handler, time.Second, drain, zap.NewNop())
	require.Equal(t, StateCreated, inst.State())
	require.NoError(t, inst.bind("127.0.0.1", 0))
	require.NotZero(t, inst.Port())

	exited := make(chan exitRecord, 1)
	go inst.run(func(inst *Instance, err error) {
		exited <- exitRecord{inst, err}
	})

	require.Eventually(t, func() bool { return inst.State() == StateServing }, time.Second, 5*time.Millisecond)
	return inst, exited
}

func instanceURL(inst *Instance, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", inst.Port(), path)
}

func TestInstance_GracefulStopFinishesInFlightRequest(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = io.WriteString(w, "done")
	})

	inst, exited := startTestInstance(t, handler, 5*time.Second)

	type result struct {
		body string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := http.Get(instanceURL(inst, "/slow"))
		if err != nil {
			resCh <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		resCh <- result{string(b), err}
	}()

	<-entered
	assert.True(t, inst.Stop())
	require.Eventually(t, func() bool { return inst.State() == StateDraining }, time.Second, 5*time.Millisecond)

	// New connections are refused while draining.
	_, err := http.Get(instanceURL(inst, "/other"))
	assert.Error(t, err)

	close(release)
	res := <-resCh
	require.NoError(t, res.err)
	assert.Equal(t, "done", res.body)

	rec := <-exited
	assert.NoError(t, rec.err)
	assert.Equal(t, StateStopped, inst.State())
	assert.False(t, inst.Forced())
	assert.NoError(t, inst.Wait(context.Background()))
}

func TestInstance_DrainTimeoutForcesClose(t *testing.T) {
	entered := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
	})

	inst, exited := startTestInstance(t, handler, 100*time.Millisecond)

	go func() {
		resp, err := http.Get(instanceURL(inst, "/hang"))
		if err == nil {
			resp.Body.Close()
		}
	}()

	<-entered
	start := time.Now()
	inst.Stop()

	select {
	case rec := <-exited:
		assert.NoError(t, rec.err)
	case <-time.After(5 * time.Second):
		t.Fatal("instance did not stop after drain timeout")
	}
	assert.True(t, inst.Forced())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestInstance_ZeroDrainTimeout(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		inst, exited := startTestInstance(t, http.NotFoundHandler(), 0)

		inst.Stop()
		rec := <-exited
		assert.NoError(t, rec.err)
		assert.False(t, inst.Forced())
	})

	t.Run("active", func(t *testing.T) {
		entered := make(chan struct{})
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(entered)
			<-r.Context().Done()
		})
		inst, exited := startTestInstance(t, handler, 0)

		go func() {
			resp, err := http.Get(instanceURL(inst, "/hang"))
			if err == nil {
				resp.Body.Close()
			}
		}()

		<-entered
		inst.Stop()
		select {
		case rec := <-exited:
			assert.NoError(t, rec.err)
		case <-time.After(5 * time.Second):
			t.Fatal("instance did not stop")
		}
		assert.True(t, inst.Forced())
	})
}

func TestInstance_StopAfterExit(t *testing.T) {
	inst, exited := startTestInstance(t, http.NotFoundHandler(), time.Second)

	assert.True(t, inst.Stop())
	<-exited

	assert.False(t, inst.Stop(), "second stop should report the instance already gone")
}

func TestInstance_ServeFailureReported(t *testing.T) {
	inst, exited := startTestInstance(t, http.NotFoundHandler(), time.Second)

	// Pulling the listener out from under Serve is an unexpected exit.
	require.NoError(t, inst.listener.Close())

	select {
	case rec := <-exited:
		assert.Error(t, rec.err)
	case <-time.After(5 * time.Second):
		t.Fatal("instance did not report failure")
	}
	assert.Equal(t, StateStopped, inst.State())
	assert.Error(t, inst.Wait(context.Background()))
}

func TestInstance_BindFailure(t *testing.T) {
	first, _ := startTestInstance(t, http.NotFoundHandler(), time.Second)
	defer first.Stop()

	second := newInstance(2, domain.Network{Name: "test"}, http.NotFoundHandler(), time.Second, time.Second, zap.NewNop())
	err := second.bind("127.0.0.1", first.Port())

	assert.ErrorIs(t, err, ErrBind)
	assert.Equal(t, StateStopped, second.State())
	select {
	case <-second.Done():
	default:
		t.Fatal("done should be closed after a failed bind")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "binding", StateBinding.String())
	assert.Equal(t, "serving", StateServing.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
