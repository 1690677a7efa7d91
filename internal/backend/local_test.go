package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/remote"
	"github.com/oriys/quasar/internal/signature"
	"golang.org/x/sync/errgroup"
)

func newTestWorker(t *testing.T) (*Local, *remote.Worker) {
	t.Helper()
	l := NewLocal(WithConcurrency(4))
	t.Cleanup(func() { l.Close() })
	return l, remote.NewWorker(l, remote.WithSessionJob(domain.SessionJob{SessionID: "s", JobID: "j"}))
}

func define(t *testing.T, name string, sig signature.Signature, h domain.Handler, opts ...remote.Option) *remote.TaskDefinition {
	t.Helper()
	def, err := remote.Define(remote.Function{Module: "test", Name: name, Signature: sig, Handler: h}, opts...)
	if err != nil {
		t.Fatalf("Define(%s) failed: %v", name, err)
	}
	return def
}

func TestLocalRunsTask(t *testing.T) {
	l, w := newTestWorker(t)
	add := define(t, "add", signature.MustNew(signature.Required("x"), signature.Required("y")),
		func(_ context.Context, args []any) ([]any, error) {
			return []any{args[0].(int) + args[1].(int)}, nil
		})

	res, err := add.Invoke(context.Background(), w, []any{1, 2}, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	v, err := l.Get(context.Background(), *res.Ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != 3 {
		t.Fatalf("add(1, 2) = %v, want 3", v)
	}
	if fns := l.Functions(); len(fns) != 1 || fns[0].Name != "add" {
		t.Fatalf("Functions() = %v", fns)
	}
}

func TestLocalMultipleReturns(t *testing.T) {
	l, w := newTestWorker(t)
	divmod := define(t, "divmod", signature.MustNew(signature.Required("a"), signature.Required("b")),
		func(_ context.Context, args []any) ([]any, error) {
			a, b := args[0].(int), args[1].(int)
			return []any{a / b, a % b}, nil
		}, remote.WithNumReturns(2))

	res, err := divmod.Invoke(context.Background(), w, []any{7, 2}, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	want := []any{3, 1}
	for i, ref := range res.Refs {
		v, err := l.Get(context.Background(), ref)
		if err != nil || v != want[i] {
			t.Fatalf("result %d = %v, %v; want %v", i, v, err, want[i])
		}
	}
}

func TestLocalUnknownFunction(t *testing.T) {
	l := NewLocal()
	defer l.Close()
	_, err := l.SubmitTask(context.Background(), &domain.SubmissionRequest{
		Descriptor: domain.FunctionDescriptor{Language: domain.LanguageGo, Name: "ghost", Hash: "nope"},
		NumReturns: 1,
	})
	if !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
	if _, err := l.Get(context.Background(), domain.ObjectRef{ID: "missing"}); !errors.Is(err, ErrUnknownObject) {
		t.Fatalf("expected ErrUnknownObject, got %v", err)
	}
}

func TestLocalRetries(t *testing.T) {
	appErr := errors.New("bad input")

	tests := []struct {
		name         string
		opts         []remote.Option
		failures     int32
		panics       bool
		wantErr      bool
		wantAttempts int32
	}{
		{"crash retried", nil, 2, true, false, 3},
		{"crash exhausts retries", []remote.Option{remote.WithMaxRetries(1)}, 5, true, true, 2},
		{"app error not retried", nil, 1, false, true, 1},
		{"app error retried when enabled", []remote.Option{remote.WithRetryExceptions(true)}, 2, false, false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, w := newTestWorker(t)
			var attempts atomic.Int32
			def := define(t, "flaky", signature.Signature{}, func(context.Context, []any) ([]any, error) {
				n := attempts.Add(1)
				if n <= tt.failures {
					if tt.panics {
						panic("boom")
					}
					return nil, appErr
				}
				return []any{"ok"}, nil
			}, tt.opts...)

			res, err := def.Invoke(context.Background(), w, nil, nil)
			if err != nil {
				t.Fatalf("Invoke failed: %v", err)
			}
			v, err := l.Get(context.Background(), *res.Ref)
			if tt.wantErr {
				var te *TaskError
				if !errors.As(err, &te) {
					t.Fatalf("expected TaskError, got %v (%v)", err, v)
				}
			} else if err != nil || v != "ok" {
				t.Fatalf("Get() = %v, %v", v, err)
			}
			if got := attempts.Load(); got != tt.wantAttempts {
				t.Fatalf("attempts = %d, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestLocalGetHonorsContext(t *testing.T) {
	l, w := newTestWorker(t)
	release := make(chan struct{})
	slow := define(t, "slow", signature.Signature{}, func(ctx context.Context, _ []any) ([]any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return []any{nil}, nil
	})
	defer close(release)

	res, err := slow.Invoke(context.Background(), w, nil, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Get(ctx, *res.Ref); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLocalConcurrentInvocations(t *testing.T) {
	l, w := newTestWorker(t)
	square := define(t, "square", signature.MustNew(signature.Required("n")),
		func(_ context.Context, args []any) ([]any, error) {
			n := args[0].(int)
			return []any{n * n}, nil
		})

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			res, err := square.Invoke(ctx, w, []any{i}, nil)
			if err != nil {
				return err
			}
			v, err := l.Get(ctx, *res.Ref)
			if err != nil {
				return err
			}
			if v != i*i {
				return errors.New("wrong result")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent invocations failed: %v", err)
	}
}

func TestLocalClosed(t *testing.T) {
	l := NewLocal()
	l.Close()
	if _, err := l.SubmitTask(context.Background(), &domain.SubmissionRequest{NumReturns: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestLocalReleaseFreesObjects(t *testing.T) {
	l, w := newTestWorker(t)
	ctx := context.Background()
	square := define(t, "square", signature.MustNew(signature.Required("x")),
		func(_ context.Context, args []any) ([]any, error) {
			return []any{args[0].(int) * args[0].(int)}, nil
		})

	var refs []domain.ObjectRef
	for i := 0; i < 100; i++ {
		res, err := square.Invoke(ctx, w, []any{i}, nil)
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if _, err := l.Get(ctx, *res.Ref); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		refs = append(refs, *res.Ref)
	}
	if n := l.Objects(); n != 100 {
		t.Fatalf("Objects() = %d, want 100", n)
	}

	if err := l.Release(ctx, refs[:60]...); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if n := l.Objects(); n != 40 {
		t.Fatalf("Objects() after release = %d, want 40", n)
	}
	if _, err := l.Get(ctx, refs[0]); !errors.Is(err, ErrUnknownObject) {
		t.Fatalf("expected ErrUnknownObject, got %v", err)
	}

	if n, _ := l.ReleaseJob(ctx, "j"); n != 1 {
		t.Fatalf("ReleaseJob dropped %d functions, want 1", n)
	}
	if l.Objects() != 0 || len(l.Functions()) != 0 {
		t.Fatalf("ReleaseJob left %d objects and %d functions", l.Objects(), len(l.Functions()))
	}
}

func TestLocalSweepDropsOnlyResolvedObjects(t *testing.T) {
	l, w := newTestWorker(t)
	ctx := context.Background()
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	fast := define(t, "fast", signature.Signature{},
		func(context.Context, []any) ([]any, error) { return []any{1}, nil })
	slow := define(t, "slow", signature.Signature{},
		func(context.Context, []any) ([]any, error) {
			<-release
			return []any{2}, nil
		})

	done, err := fast.Invoke(ctx, w, nil, nil)
	if err != nil {
		t.Fatalf("Invoke fast failed: %v", err)
	}
	if _, err := l.Get(ctx, *done.Ref); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	pending, err := slow.Invoke(ctx, w, nil, nil)
	if err != nil {
		t.Fatalf("Invoke slow failed: %v", err)
	}

	if n := l.sweep(time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("sweep dropped %d objects, want 1", n)
	}
	unblock()
	if v, err := l.Get(ctx, *pending.Ref); err != nil || v != 2 {
		t.Fatalf("pending result = %v, %v; want 2", v, err)
	}
}

func TestLocalObjectTTLSweeper(t *testing.T) {
	l := NewLocal(WithObjectTTL(10 * time.Millisecond))
	defer l.Close()
	w := remote.NewWorker(l, remote.WithSessionJob(domain.SessionJob{SessionID: "s", JobID: "j"}))
	one := define(t, "one", signature.Signature{},
		func(context.Context, []any) ([]any, error) { return []any{1}, nil })

	res, err := one.Invoke(context.Background(), w, nil, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if _, err := l.Get(context.Background(), *res.Ref); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for l.Objects() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expired object was never swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLocalSubmitRacingClose(t *testing.T) {
	l := NewLocal()
	w := remote.NewWorker(l, remote.WithSessionJob(domain.SessionJob{SessionID: "s", JobID: "j"}))
	noop := define(t, "noop", signature.Signature{},
		func(context.Context, []any) ([]any, error) { return []any{nil}, nil })
	if _, err := noop.Invoke(context.Background(), w, nil, nil); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				_, err := noop.Invoke(context.Background(), w, nil, nil)
				if err != nil && !errors.Is(err, ErrClosed) {
					return err
				}
			}
			return nil
		})
	}
	time.Sleep(time.Millisecond)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("submission racing Close failed: %v", err)
	}
	if _, err := l.SubmitTask(context.Background(), &domain.SubmissionRequest{NumReturns: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}
