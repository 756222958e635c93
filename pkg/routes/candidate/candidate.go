package candidate

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/tulip/config"
	appctx "github.com/Ramsey-B/tulip/pkg/context"
	"github.com/Ramsey-B/tulip/pkg/models"
)

const (
	// DefaultActor is recorded when an import arrives without an X-User-ID header.
	DefaultActor = "api"

	LineageSourceGraph = "graph"
	LineageSourceStore = "store"
)

var validate = validator.New()

type Checker interface {
	Check(ctx context.Context, input models.CandidateInput) (*models.DuplicateCheckResult, error)
}

type Importer interface {
	ImportBatch(ctx context.Context, rows []models.CandidateInput, skipDuplicates bool, actorID string) (*models.ImportResult, error)
}

type Merger interface {
	Merge(ctx context.Context, primaryID, duplicateID int64, actorID string) (*models.MergeOutcome, error)
}

type Reader interface {
	GetByID(ctx context.Context, id int64, includeRetired bool) (*models.Candidate, error)
	ListMerges(ctx context.Context, candidateID int64) ([]models.MergeRecord, error)
}

// LineageReader answers lineage from the graph database. It is only registered when the graph is enabled.
type LineageReader interface {
	MergedInto(ctx context.Context, id int64) ([]int64, error)
}

// Register registers the candidate routes
func Register(g *echo.Group) {
	candidates := g.Group("/candidates")
	candidates.POST("/check", Check)
	candidates.POST("/import", Import)
	candidates.POST("/merge", Merge)
	candidates.GET("/:id", Get)
	candidates.GET("/:id/merges", ListMerges)
	candidates.GET("/:id/lineage", GetLineage)
}

// Check handles POST /candidates/check
func Check(c echo.Context) error {
	var input models.CandidateInput
	if err := bind(c, &input); err != nil {
		return err
	}

	ctx, checker, err := ectoinject.GetContext[Checker](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := checker.Check(ctx, input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Import handles POST /candidates/import
func Import(c echo.Context) error {
	var req models.ImportRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, cfg, err := ectoinject.GetContext[*config.Config](ctx); err == nil && cfg.MaxImportRows > 0 && len(req.Rows) > cfg.MaxImportRows {
		return httperror.NewHTTPErrorf(http.StatusRequestEntityTooLarge, "import is limited to %d rows, got %d", cfg.MaxImportRows, len(req.Rows))
	}

	ctx, importer, err := ectoinject.GetContext[Importer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	actorID := appctx.GetActorID(ctx)
	if actorID == "" {
		actorID = DefaultActor
	}

	result, err := importer.ImportBatch(ctx, req.Rows, req.SkipDuplicates, actorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Merge handles POST /candidates/merge
func Merge(c echo.Context) error {
	ctx := c.Request().Context()
	actorID := appctx.GetActorID(ctx)
	if actorID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "X-User-ID header is required to merge candidates")
	}

	var req models.MergeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx, merger, err := ectoinject.GetContext[Merger](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	outcome, err := merger.Merge(ctx, req.PrimaryID, req.DuplicateID, actorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, outcome)
}

// Get handles GET /candidates/:id
func Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	includeRetired := false
	if raw := c.QueryParam("include_retired"); raw != "" {
		if includeRetired, err = strconv.ParseBool(raw); err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "include_retired must be a boolean")
		}
	}

	ctx, reader, err := ectoinject.GetContext[Reader](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	candidate, err := reader.GetByID(ctx, id, includeRetired)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, candidate)
}

// ListMerges handles GET /candidates/:id/merges
func ListMerges(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	ctx, reader, err := ectoinject.GetContext[Reader](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	merges, err := reader.ListMerges(ctx, id)
	if err != nil {
		return err
	}
	if merges == nil {
		merges = []models.MergeRecord{}
	}
	return c.JSON(http.StatusOK, merges)
}

// GetLineage handles GET /candidates/:id/lineage
func GetLineage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	// Try the graph first, it answers in one query
	ctx, graph, err := ectoinject.GetContext[LineageReader](ctx)
	if err == nil && graph != nil {
		ids, err := graph.MergedInto(ctx, id)
		if err == nil {
			return c.JSON(http.StatusOK, models.Lineage{CandidateID: id, MergedIDs: ids, Source: LineageSourceGraph})
		}
		if _, logger, lerr := ectoinject.GetContext[ectologger.Logger](ctx); lerr == nil {
			logger.WithContext(ctx).WithError(err).WithField("candidate_id", id).Warn("Graph lineage failed, falling back to merge records")
		}
	}

	// Fall back to the merge log
	ctx, reader, err := ectoinject.GetContext[Reader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	if _, err := reader.GetByID(ctx, id, true); err != nil {
		return err
	}

	ids, err := mergedInto(ctx, reader, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.Lineage{CandidateID: id, MergedIDs: ids, Source: LineageSourceStore})
}

// mergedInto walks the merge log breadth first from id.
func mergedInto(ctx context.Context, reader Reader, id int64) ([]int64, error) {
	ids := make([]int64, 0)
	seen := map[int64]bool{id: true}
	queue := []int64{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		merges, err := reader.ListMerges(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, m := range merges {
			if seen[m.DuplicateID] {
				continue
			}
			seen[m.DuplicateID] = true
			ids = append(ids, m.DuplicateID)
			queue = append(queue, m.DuplicateID)
		}
	}
	return ids, nil
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid candidate id %q", c.Param("id"))
	}
	return id, nil
}
