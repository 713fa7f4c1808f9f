package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-drive-lab/internal/bridge"
	"github.com/voice-drive-lab/internal/control"
	"github.com/voice-drive-lab/internal/logging"
)

type sessionArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"cockpit session id; the most recent cockpit when empty"`
}

type sayArgs struct {
	SessionID  string   `json:"session_id,omitempty" jsonschema:"cockpit session id; the most recent cockpit when empty"`
	Text       string   `json:"text" jsonschema:"utterance to classify as a finalized voice result"`
	Confidence *float64 `json:"confidence,omitempty" jsonschema:"recognition confidence between 0 and 1; defaults to 1"`
}

type keyArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"cockpit session id; the most recent cockpit when empty"`
	Key       string `json:"key" jsonschema:"key name: w a s d r space enter or forward left backward right reset brake toggle-view"`
	Down      bool   `json:"down" jsonschema:"true for key down, false for key up"`
}

type voiceArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"cockpit session id; the most recent cockpit when empty"`
	Action    string `json:"action" jsonschema:"start or stop"`
}

// DecisionResult is the say tool's reply.
type DecisionResult struct {
	SessionID string `json:"session_id"`
	Accepted  bool   `json:"accepted"`
	Command   string `json:"command,omitempty"`
	Reason    string `json:"reason"`
}

// NewServer builds the agent-facing tool server over the cockpit hub.
func NewServer(hub *bridge.Hub, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "voice-drive", Version: version}, nil)

	sdk.AddTool(server, &sdk.Tool{Name: "list_sessions", Description: "List connected cockpits"}, func(ctx context.Context, req *sdk.CallToolRequest, _ struct{}) (*sdk.CallToolResult, any, error) {
		return jsonResult(hub.List())
	})

	sdk.AddTool(server, &sdk.Tool{Name: "status", Description: "Voice session status of a cockpit"}, func(ctx context.Context, req *sdk.CallToolRequest, args sessionArgs) (*sdk.CallToolResult, any, error) {
		c, res := resolve(hub, args.SessionID)
		if c == nil {
			return res, nil, nil
		}
		st, err := c.Snapshot(ctx)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		return jsonResult(st)
	})

	sdk.AddTool(server, &sdk.Tool{Name: "say", Description: "Classify an utterance as a voice command for a cockpit"}, func(ctx context.Context, req *sdk.CallToolRequest, args sayArgs) (*sdk.CallToolResult, any, error) {
		c, res := resolve(hub, args.SessionID)
		if c == nil {
			return res, nil, nil
		}
		confidence := 1.0
		if args.Confidence != nil {
			confidence = *args.Confidence
		}
		d, err := c.Say(ctx, args.Text, confidence)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		out := DecisionResult{SessionID: c.ID, Accepted: d.Accepted(), Reason: d.Reason.String()}
		if d.Accepted() {
			out.Command = d.Command.String()
		}
		logging.Debugw("mcp say", "session.id", c.ID, "text", args.Text, "reason", out.Reason)
		return jsonResult(out)
	})

	sdk.AddTool(server, &sdk.Tool{Name: "key", Description: "Press or release a driving key on a cockpit"}, func(ctx context.Context, req *sdk.CallToolRequest, args keyArgs) (*sdk.CallToolResult, any, error) {
		c, res := resolve(hub, args.SessionID)
		if c == nil {
			return res, nil, nil
		}
		key, ok := control.ParseKey(args.Key)
		if !ok {
			return errorResult(fmt.Sprintf("unknown key %q", args.Key)), nil, nil
		}
		c.Key(key, args.Down)
		return jsonResult(map[string]any{"session_id": c.ID, "key": key.String(), "down": args.Down})
	})

	sdk.AddTool(server, &sdk.Tool{Name: "voice", Description: "Start or stop voice recognition on a cockpit"}, func(ctx context.Context, req *sdk.CallToolRequest, args voiceArgs) (*sdk.CallToolResult, any, error) {
		c, res := resolve(hub, args.SessionID)
		if c == nil {
			return res, nil, nil
		}
		var err error
		switch args.Action {
		case "start":
			err = c.StartVoice(ctx)
		case "stop":
			err = c.StopVoice(ctx)
		default:
			return errorResult(fmt.Sprintf("unknown action %q", args.Action)), nil, nil
		}
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		st, err := c.Snapshot(ctx)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		return jsonResult(st)
	})

	return server
}

func resolve(hub *bridge.Hub, id string) (*bridge.Cockpit, *sdk.CallToolResult) {
	c, ok := hub.Resolve(id)
	if !ok {
		if id == "" {
			return nil, errorResult("no cockpit connected")
		}
		return nil, errorResult(fmt.Sprintf("no cockpit with session id %q", id))
	}
	return c, nil
}

func jsonResult(v any) (*sdk.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(b)}}}, nil, nil
}

func errorResult(msg string) *sdk.CallToolResult {
	return &sdk.CallToolResult{IsError: true, Content: []sdk.Content{&sdk.TextContent{Text: msg}}}
}
