// Command drivectl drives a connected cockpit through the server's MCP
// endpoint.
//
//	drivectl [-url ws://localhost:8080/mcp/ws] [-session id] <command> [args]
//
// Commands:
//
//	sessions               list connected cockpits
//	status                 show the voice status
//	say <text...>          classify text as a spoken command
//	key <key> down|up      press or release a driving key
//	voice start|stop       start or stop recognition
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/voice-drive-lab/internal/logging"
	"github.com/voice-drive-lab/internal/mcp"
)

func main() {
	_ = godotenv.Load()

	defaultURL := os.Getenv("DRIVE_MCP_URL")
	if defaultURL == "" {
		defaultURL = "ws://localhost:8080/mcp/ws"
	}
	url := flag.String("url", defaultURL, "MCP websocket endpoint")
	session := flag.String("session", "", "cockpit session id (default: most recent)")
	confidence := flag.Float64("confidence", 1, "confidence reported with say")
	timeout := flag.Duration("timeout", 10*time.Second, "overall timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: drivectl [flags] sessions|status|say|key|voice [args]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if os.Getenv("LOG_LEVEL") != "" {
		logging.Init()
		defer logging.Sync()
	}

	tool, args, err := buildCall(flag.Args(), *session, *confidence)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClientWrapper("drivectl", "v0.0.0")
	if err := client.ConnectWebSocket(ctx, *url); err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *url, err)
		os.Exit(1)
	}
	defer client.Close()

	out, err := client.CallTool(ctx, tool, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(out)
}

// buildCall maps command-line arguments to a tool name and its arguments.
func buildCall(argv []string, session string, confidence float64) (string, map[string]any, error) {
	if len(argv) == 0 {
		return "", nil, fmt.Errorf("missing command")
	}
	args := map[string]any{}
	if session != "" {
		args["session_id"] = session
	}
	switch cmd, rest := argv[0], argv[1:]; cmd {
	case "sessions":
		return "list_sessions", map[string]any{}, nil
	case "status":
		return "status", args, nil
	case "say":
		text := strings.TrimSpace(strings.Join(rest, " "))
		if text == "" {
			return "", nil, fmt.Errorf("say needs text")
		}
		args["text"] = text
		args["confidence"] = confidence
		return "say", args, nil
	case "key":
		if len(rest) != 2 {
			return "", nil, fmt.Errorf("key needs a key and down|up")
		}
		var down bool
		switch rest[1] {
		case "down":
			down = true
		case "up":
		default:
			b, err := strconv.ParseBool(rest[1])
			if err != nil {
				return "", nil, fmt.Errorf("key state must be down or up, got %q", rest[1])
			}
			down = b
		}
		args["key"] = rest[0]
		args["down"] = down
		return "key", args, nil
	case "voice":
		if len(rest) != 1 || (rest[0] != "start" && rest[0] != "stop") {
			return "", nil, fmt.Errorf("voice needs start or stop")
		}
		args["action"] = rest[0]
		return "voice", args, nil
	default:
		return "", nil, fmt.Errorf("unknown command %q", cmd)
	}
}
