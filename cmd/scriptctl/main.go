// scriptctl talks to a running engine's control plane.
//
//	scriptctl [-port 7070] ping
//	scriptctl [-port 7070] status <filter>
//	scriptctl [-port 7070] reconfigure <filter> <category.json>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"scriptfilter/internal/logging"
	"scriptfilter/internal/transport"
)

func main() {
	port := flag.Int("port", 7070, "engine gRPC port")
	timeout := flag.Duration("timeout", 5*time.Second, "call timeout")
	flag.Parse()
	logging.InitFromEnv()

	if err := run(*port, *timeout, flag.Args()); err != nil {
		logging.Fatal(nil, "scriptctl", "err", err)
		os.Exit(1)
	}
}

func run(port int, timeout time.Duration, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: scriptctl ping | status <filter> | reconfigure <filter> <file>")
	}
	cli, err := transport.Dial(port)
	if err != nil {
		return err
	}
	defer cli.Close()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch args[0] {
	case "ping":
		out, err := cli.Ping(ctx)
		if err != nil {
			return err
		}
		return printJSON(out)
	case "status":
		if len(args) != 2 {
			return fmt.Errorf("status: want <filter>")
		}
		out, err := cli.Status(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(out)
	case "reconfigure":
		if len(args) != 3 {
			return fmt.Errorf("reconfigure: want <filter> <file>")
		}
		blob, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		ok, err := cli.Reconfigure(ctx, args[1], string(blob))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("filter %q rejected the configuration", args[1])
		}
		fmt.Println("ok")
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
