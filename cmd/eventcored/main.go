// Command eventcored is an operator-facing smoke-test harness for the
// eventcore runtime: it starts a runtime on the wazero guest engine against
// a compiled guest module, and lets the operator post synthetic events
// from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgewasm/eventcore"
	"github.com/edgewasm/eventcore/guestengine"
	wazeroengine "github.com/edgewasm/eventcore/guestengine/wazero"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session bundles what a subcommand needs to stand up a runtime against one
// guest module: loaded config, a wazero engine, and the registered module's
// handle.
type session struct {
	rt     *eventcore.Runtime
	handle *guestModuleHandle
}

func newSession(ctx context.Context, wasmPath, envFile string) (*session, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := eventcore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	cfg.Logger = logger

	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("read guest module: %w", err)
	}

	// rt is filled in once eventcore.Init below returns; the guest only
	// calls get_event after it has been registered against rt, so the
	// closure always sees a live runtime by the time it runs.
	var rt *eventcore.Runtime
	engine, err := wazeroengine.NewEngine(ctx, func(ctx context.Context) (typ, id, port, state uint32, ok bool, err error) {
		if rt == nil {
			return 0, 0, 0, 0, false, nil
		}
		ev, getErr := rt.GetEvent()
		if getErr != nil {
			if errors.Is(getErr, eventcore.ErrNotFound) {
				return 0, 0, 0, 0, false, nil
			}
			return 0, 0, 0, 0, false, getErr
		}
		return uint32(ev.Type), ev.ID, ev.Port, ev.State, true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("build wazero engine: %w", err)
	}

	rt, err = eventcore.Init(ctx, engine, cfg)
	if err != nil {
		return nil, fmt.Errorf("init runtime: %w", err)
	}

	handle := &guestModuleHandle{}
	execEnv, err := rt.RegisterModule(ctx, handle, wasmBytes)
	if err != nil {
		_ = rt.Shutdown(context.Background())
		return nil, fmt.Errorf("register guest module: %w", err)
	}
	handle.execEnv = execEnv

	return &session{rt: rt, handle: handle}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eventcored",
		Short: "Run the eventcore dispatch runtime against a guest WASM module",
	}

	root.AddCommand(newRunCmd(), newPostCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var wasmPath, envFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a runtime against a guest module and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sess, err := newSession(ctx, wasmPath, envFile)
			if err != nil {
				return err
			}
			defer sess.rt.Shutdown(context.Background())

			fmt.Fprintln(os.Stderr, "eventcore runtime running; press ctrl-c to stop")
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&wasmPath, "module", "", "path to a compiled guest .wasm file")
	cmd.Flags().StringVar(&envFile, "env-file", "", "optional .env file to load before reading configuration")
	_ = cmd.MarkFlagRequired("module")
	return cmd
}

func newPostCmd() *cobra.Command {
	var wasmPath, envFile, kind string
	var id, port, state uint32

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Register a guest module, post one synthetic event, and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := parseResourceType(kind)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sess, err := newSession(ctx, wasmPath, envFile)
			if err != nil {
				return err
			}
			defer sess.rt.Shutdown(context.Background())

			ev := eventcore.Event{Owner: sess.handle, Type: typ, ID: id, Port: port, State: state}
			if err := sess.rt.PostEvent(ev); err != nil {
				return fmt.Errorf("post event: %w", err)
			}

			fmt.Fprintf(os.Stderr, "posted %s event id=%d\n", kind, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&wasmPath, "module", "", "path to a compiled guest .wasm file")
	cmd.Flags().StringVar(&envFile, "env-file", "", "optional .env file to load before reading configuration")
	cmd.Flags().StringVar(&kind, "type", "timer", "event type: timer, gpio, or sensor")
	cmd.Flags().Uint32Var(&id, "id", 0, "resource id (timer id, pin number, or sensor id)")
	cmd.Flags().Uint32Var(&port, "port", 0, "auxiliary channel (sensor events only)")
	cmd.Flags().Uint32Var(&state, "state", 0, "scalar payload (gpio level or sensor reading)")
	_ = cmd.MarkFlagRequired("module")
	return cmd
}

func parseResourceType(kind string) (eventcore.ResourceType, error) {
	switch kind {
	case "timer":
		return eventcore.ResourceTimer, nil
	case "gpio":
		return eventcore.ResourceGPIO, nil
	case "sensor":
		return eventcore.ResourceSensor, nil
	default:
		return 0, fmt.Errorf("unknown event type %q (want timer, gpio, or sensor)", kind)
	}
}

// guestModuleHandle is the opaque ModuleHandle identity used by this
// command: a pointer is comparable and unique per process, matching the
// C side's pointer-identity handle semantics.
type guestModuleHandle struct {
	execEnv guestengine.ExecEnv
}
