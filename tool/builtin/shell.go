package builtin

import (
	"context"
	"fmt"

	"github.com/sandchat/sandchat/sandbox"
	"github.com/sandchat/sandchat/tool"
)

type shellArgs struct {
	Command          string `json:"command" jsonschema:"description=The shell command to execute"`
	WorkingDirectory string `json:"workingDirectory,omitempty" jsonschema:"description=Working directory for the command (defaults to /mnt/data)"`
	TimeoutMs        int    `json:"timeoutMs,omitempty" jsonschema:"description=Command timeout in milliseconds"`
}

// NewLocalShellTool returns the sandbox shell tool. Commands run inside the
// per-thread container; files written under /mnt/data survive between calls
// and can be referenced in replies as sandbox:/mnt/data/<name>.
func NewLocalShellTool(client *sandbox.Client) *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(
		"local_shell",
		"Execute a shell command in the thread's sandbox container. "+
			"Write produced files under /mnt/data and reference them as sandbox:/mnt/data/<filename>.",
		shellArgs{},
		func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
			if client == nil {
				return nil, tool.NewToolError("local_shell", "sandbox is not configured", tool.CodeConfigError)
			}

			command, _ := args["command"].(string)
			req := sandbox.ExecRequest{Command: command}
			if wd, ok := args["workingDirectory"].(string); ok {
				req.WorkingDirectory = wd
			}
			if timeout, ok := args["timeoutMs"].(float64); ok {
				req.TimeoutMs = int(timeout)
			}

			result, err := client.Exec(ctx, tc.ThreadID(), req)
			if err != nil {
				return nil, tool.NewToolError("local_shell", err.Error(), tool.CodeUpstreamError)
			}

			output := result.Stdout
			if result.Stderr != "" {
				if output != "" {
					output += "\n"
				}
				output += result.Stderr
			}

			return map[string]any{
				"output":   output,
				"exitCode": result.ExitCode,
			}, nil
		},
	)
}

type readFileArgs struct {
	Path string `json:"path" jsonschema:"description=Absolute path of the file to read,example=/mnt/data/out.txt"`
}

// NewReadFileTool returns the sandbox file read tool. Text files come back
// verbatim; binary files are described rather than inlined.
func NewReadFileTool(client *sandbox.Client) *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(
		"read_file",
		"Read a file from the thread's sandbox container",
		readFileArgs{},
		func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
			if client == nil {
				return nil, tool.NewToolError("read_file", "sandbox is not configured", tool.CodeConfigError)
			}

			path, _ := args["path"].(string)
			content, err := client.ReadFile(ctx, tc.ThreadID(), path)
			if err != nil {
				if sandbox.IsNotFound(err) {
					return nil, tool.NewToolError("read_file",
						fmt.Sprintf("file not found: %s", path), tool.CodeExecutionError)
				}
				return nil, tool.NewToolError("read_file", err.Error(), tool.CodeUpstreamError)
			}

			if content.IsBinary {
				return map[string]any{
					"path":     path,
					"isBinary": true,
					"mimeType": content.MimeType,
					"size":     content.Size,
				}, nil
			}

			return map[string]any{
				"path":     path,
				"content":  content.Content,
				"mimeType": content.MimeType,
				"size":     content.Size,
			}, nil
		},
	)
}
