package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/marcusd/internal/types"
)

// ServeStdio runs the tool surface over JSON lines: one request object per
// input line, one response object per output line. Used by agents launched
// as child processes.
func (d *Dispatcher) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req types.ToolRequest
		if err := json.Unmarshal(line, &req); err != nil {
			log.Printf("[MCP] malformed stdio request: %v", err)
			if err := encoder.Encode(types.ToolResponse{
				Success: false,
				Error: &types.ToolError{
					Kind:    "business_logic",
					Message: fmt.Sprintf("malformed request: %v", err),
				},
			}); err != nil {
				return err
			}
			continue
		}

		if err := encoder.Encode(d.Dispatch(ctx, req)); err != nil {
			return err
		}
	}
	return scanner.Err()
}
