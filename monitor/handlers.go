package monitor

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zero-day-ai/gauntlet/bugs"
	"github.com/zero-day-ai/gauntlet/health"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/registry"
)

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// BugsResponse is the JSON body of GET /api/bugs.
type BugsResponse struct {
	Summary bugs.Summary       `json:"summary"`
	Bugs    []memory.BugRecord `json:"bugs"`
}

// MutationsResponse is the body of GET /api/runs/:run_id/mutations.
type MutationsResponse struct {
	RunID     string                  `json:"run_id"`
	Mutations []memory.MutationRecord `json:"mutations"`
}

// QueriesResponse is the body of GET /api/tools/:tool_name/queries.
type QueriesResponse struct {
	ToolName string               `json:"tool_name"`
	Queries  []memory.QueryRecord `json:"queries"`
}

// ToolsResponse is the body of GET /api/tools.
type ToolsResponse struct {
	Tools []memory.ToolDescriptor `json:"tools"`
}

// InstancesResponse is the body of GET /api/instances.
type InstancesResponse struct {
	Enabled   bool                   `json:"enabled"`
	Instances []registry.ServiceInfo `json:"instances"`
}

func (s *Server) handleHealth(c *gin.Context) {
	st := health.Run(c.Request.Context(), s.opts.Checks...)
	code := http.StatusOK
	if st.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

// handleBugs serves every bug as JSON with its summary, or as a csv or
// markdown export when ?format= is set.
func (s *Server) handleBugs(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	records, err := s.opts.Store.LongTerm().Bugs(c.Request.Context(), limit)
	if err != nil {
		s.storageError(c, err)
		return
	}

	if raw := c.Query("format"); raw != "" && raw != string(bugs.FormatJSON) {
		format, err := bugs.ParseFormat(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_FORMAT"})
			return
		}
		var buf bytes.Buffer
		if err := bugs.Export(&buf, format, records); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "EXPORT_FAILED"})
			return
		}
		contentType := "text/csv; charset=utf-8"
		if format == bugs.FormatMarkdown {
			contentType = "text/markdown; charset=utf-8"
		}
		c.Data(http.StatusOK, contentType, buf.Bytes())
		return
	}

	if records == nil {
		records = []memory.BugRecord{}
	}
	c.JSON(http.StatusOK, BugsResponse{Summary: bugs.Summarize(records), Bugs: records})
}

func (s *Server) handleMutations(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	runID := c.Param("run_id")
	recs, err := s.opts.Store.ShortTerm().Mutations(c.Request.Context(), runID, limit)
	if err != nil {
		s.storageError(c, err)
		return
	}
	if recs == nil {
		recs = []memory.MutationRecord{}
	}
	c.JSON(http.StatusOK, MutationsResponse{RunID: runID, Mutations: recs})
}

func (s *Server) handleQueries(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	name := c.Param("tool_name")
	recs, err := s.opts.Store.LongTerm().Queries(c.Request.Context(), name, limit)
	if err != nil {
		s.storageError(c, err)
		return
	}
	if recs == nil {
		recs = []memory.QueryRecord{}
	}
	c.JSON(http.StatusOK, QueriesResponse{ToolName: name, Queries: recs})
}

func (s *Server) handleTools(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	tools, err := s.opts.Store.LongTerm().Tools(c.Request.Context(), limit)
	if err != nil {
		s.storageError(c, err)
		return
	}
	if tools == nil {
		tools = []memory.ToolDescriptor{}
	}
	c.JSON(http.StatusOK, ToolsResponse{Tools: tools})
}

func (s *Server) handleInstances(c *gin.Context) {
	if s.opts.Registry == nil {
		c.JSON(http.StatusOK, InstancesResponse{Instances: []registry.ServiceInfo{}})
		return
	}
	infos, err := s.opts.Registry.DiscoverAll(c.Request.Context(), registry.KindGauntlet)
	if err != nil {
		s.logger.Warn("instance discovery failed", "error", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "REGISTRY_UNAVAILABLE"})
		return
	}
	if infos == nil {
		infos = []registry.ServiceInfo{}
	}
	c.JSON(http.StatusOK, InstancesResponse{Enabled: true, Instances: infos})
}

func (s *Server) storageError(c *gin.Context, err error) {
	s.logger.Error("memory read failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORAGE_FAILED"})
}

// queryLimit parses ?limit=. Absent means 0, the store's default.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: "INVALID_LIMIT"})
		return 0, false
	}
	return n, true
}
