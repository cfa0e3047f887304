package mcp

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// memoryResourceListLimit bounds how many memories RegisterResources walks
// in one pass; a store with more memories than this relies on memory_list
// for full enumeration instead of the static resource catalog.
const memoryResourceListLimit = 10000

// RegisterResources registers every currently indexed memory file as an
// MCP resource under a file:// URI. Call this after NewServer and before
// Serve; memories saved afterward are still reachable via memory_search
// and memory_list, just not via the static resource listing until the
// server restarts.
func (s *Server) RegisterResources(ctx context.Context) error {
	cursor := ""
	registered := 0
	for {
		rows, next, err := s.metadata.ListMemories(ctx, "", cursor, 200)
		if err != nil {
			return fmt.Errorf("failed to list memories: %w", err)
		}
		for _, m := range rows {
			s.registerMemoryResource(m.ID, m.FilePath, m.Title)
			registered++
		}
		if next == "" || registered >= memoryResourceListLimit {
			break
		}
		cursor = next
	}

	s.logger.Info("registered resources", "count", registered)
	return nil
}

// registerMemoryResource registers a single memory as a resource, readable
// by the file path it was indexed from.
func (s *Server) registerMemoryResource(id int64, filePath, title string) {
	uri := fmt.Sprintf("file://%s", filePath)
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        title,
			URI:         uri,
			Description: filepath.Base(filePath),
			MIMEType:    "text/markdown",
		},
		s.makeMemoryResourceHandler(id),
	)
}

// makeMemoryResourceHandler closes over a memory id and returns its
// current content on every read, so edits made via memory_update after
// registration are still reflected.
func (s *Server) makeMemoryResourceHandler(id int64) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		m, err := s.metadata.GetMemory(ctx, id)
		if err != nil {
			return nil, MapError(err)
		}
		if m == nil {
			return nil, NewResourceNotFoundError(fmt.Sprintf("memory %d", id))
		}

		uri := fmt.Sprintf("file://%s", m.FilePath)
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     m.Content,
				},
			},
		}, nil
	}
}
