// Command eshet-cli talks to an ESHET server from the shell: call actions,
// listen to events, observe states, get/set properties, and interactively
// own a state or event. JSON in, JSON out, with "unknown" standing in for
// absent state values.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	eshet "github.com/danmuck/eshet"
	"github.com/danmuck/eshet/internal/logging"
)

const usage = `usage: eshet-cli COMMAND [ARGS]

commands:
  call PATH [ARGS_JSON...]     call an action
  listen PATH                  listen to an event
  observe PATH                 observe a state
  get PATH                     get a property
  set PATH VALUE_JSON          set a property
  publish PATH [INITIAL_JSON]  own a state; feed values on stdin ("unknown" clears)
  emit PATH [VALUE_JSON]       emit an event once, or repeatedly from stdin

The server is taken from ESHET_SERVER (host[:port]), then ~/.eshetrc.toml,
then localhost:11236.`

func main() {
	logging.ConfigureRuntime()
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "eshet-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	cfg, err := loadCLIConfig(defaultConfigPath())
	if err != nil {
		return err
	}
	client, err := eshet.NewClient(eshet.ClientConfig{
		Address:  cfg.Server,
		Identity: loadIdentity(cfg.IdentityFile),
		Timeouts: cfg.Timeouts,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	defer func() { persistIdentity(cfg.IdentityFile, client.Identity()) }()

	ctx := context.Background()
	switch command {
	case "call":
		return cmdCall(ctx, client, args)
	case "listen":
		return cmdListen(ctx, client, args)
	case "observe":
		return cmdObserve(ctx, client, args)
	case "get":
		return cmdGet(ctx, client, args)
	case "set":
		return cmdSet(ctx, client, args)
	case "publish":
		return cmdPublish(ctx, client, args)
	case "emit":
		return cmdEmit(ctx, client, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func needPath(args []string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("missing PATH")
	}
	return args[0], args[1:], nil
}

func printPayload(p eshet.Payload) error {
	out, err := payloadToJSON(p)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func printState(v eshet.StateValue) error {
	out, err := stateToJSON(v)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func cmdCall(ctx context.Context, client *eshet.Client, args []string) error {
	path, rest, err := needPath(args)
	if err != nil {
		return err
	}
	tuple, err := jsonArgsToValue(rest)
	if err != nil {
		return err
	}
	ch, err := client.ActionCall(path, tuple)
	if err != nil {
		return err
	}
	result, err := eshet.Wait(ctx, ch)
	if err != nil {
		return err
	}
	return printPayload(result)
}

func cmdListen(ctx context.Context, client *eshet.Client, args []string) error {
	path, _, err := needPath(args)
	if err != nil {
		return err
	}
	events := make(chan eshet.Payload, 16)
	ch, err := client.EventListen(path, events)
	if err != nil {
		return err
	}
	if _, err := eshet.Wait(ctx, ch); err != nil {
		return err
	}
	for ev := range events {
		if err := printPayload(ev); err != nil {
			return err
		}
	}
	return nil
}

func cmdObserve(ctx context.Context, client *eshet.Client, args []string) error {
	path, _, err := needPath(args)
	if err != nil {
		return err
	}
	updates := make(chan eshet.StateValue, 16)
	reply, err := client.StateObserve(path, updates)
	if err != nil {
		return err
	}
	initial, err := eshet.WaitState(ctx, reply)
	if err != nil {
		return err
	}
	if err := printState(initial); err != nil {
		return err
	}
	for v := range updates {
		if err := printState(v); err != nil {
			return err
		}
	}
	return nil
}

func cmdGet(ctx context.Context, client *eshet.Client, args []string) error {
	path, _, err := needPath(args)
	if err != nil {
		return err
	}
	value, err := client.GetWait(ctx, path)
	if err != nil {
		return err
	}
	return printPayload(value)
}

func cmdSet(ctx context.Context, client *eshet.Client, args []string) error {
	path, rest, err := needPath(args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("set needs exactly one VALUE_JSON")
	}
	value, err := jsonToValue(rest[0])
	if err != nil {
		return err
	}
	return client.SetWait(ctx, path, value)
}

func cmdPublish(ctx context.Context, client *eshet.Client, args []string) error {
	path, rest, err := needPath(args)
	if err != nil {
		return err
	}
	ch, err := client.StateRegister(path)
	if err != nil {
		return err
	}
	if _, err := eshet.Wait(ctx, ch); err != nil {
		return err
	}
	if len(rest) > 0 {
		if err := publishValue(ctx, client, path, rest[0]); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := publishValue(ctx, client, path, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func publishValue(ctx context.Context, client *eshet.Client, path, raw string) error {
	if raw == unknownSentinel {
		ch, err := client.StateUnknown(path)
		if err != nil {
			return err
		}
		_, err = eshet.Wait(ctx, ch)
		return err
	}
	value, err := jsonToValue(raw)
	if err != nil {
		return err
	}
	ch, err := client.StateChanged(path, value)
	if err != nil {
		return err
	}
	_, err = eshet.Wait(ctx, ch)
	return err
}

func cmdEmit(ctx context.Context, client *eshet.Client, args []string) error {
	path, rest, err := needPath(args)
	if err != nil {
		return err
	}
	ch, err := client.EventRegister(path)
	if err != nil {
		return err
	}
	if _, err := eshet.Wait(ctx, ch); err != nil {
		return err
	}
	if len(rest) > 0 {
		return emitValue(ctx, client, path, rest[0])
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := emitValue(ctx, client, path, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func emitValue(ctx context.Context, client *eshet.Client, path, raw string) error {
	value, err := jsonToValue(raw)
	if err != nil {
		return err
	}
	ch, err := client.EventEmit(path, value)
	if err != nil {
		return err
	}
	_, err = eshet.Wait(ctx, ch)
	return err
}
