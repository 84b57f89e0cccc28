// Package api exposes the punch pipeline over HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/group"
	"geoattend/internal/punch"
)

// Puncher records single-subject and manual punches.
type Puncher interface {
	Punch(ctx context.Context, a punch.Attempt) (*punch.Result, error)
	ManualPunch(ctx context.Context, a punch.Attempt) (*punch.Result, error)
	Record(ctx context.Context, id string) (*attendance.Record, error)
}

// Capturer runs group captures.
type Capturer interface {
	Capture(ctx context.Context, req group.Request) (*group.Result, error)
}

// Handler serves the attendance routes.
type Handler struct {
	punches  Puncher
	groups   Capturer
	maxBytes int64
}

// NewHandler builds a Handler. maxBytes caps request bodies; zero disables the cap.
func NewHandler(punches Puncher, groups Capturer, maxBytes int64) *Handler {
	return &Handler{punches: punches, groups: groups, maxBytes: maxBytes}
}

// Register mounts the attendance routes on rg. manualGuard runs before the
// manual punch handler.
func (h *Handler) Register(rg *gin.RouterGroup, manualGuard ...gin.HandlerFunc) {
	att := rg.Group("/attendance")
	att.POST("/punch", h.limitBody, h.punch)
	att.POST("/manual", append(append([]gin.HandlerFunc{h.limitBody}, manualGuard...), h.manual)...)
	att.GET("/:id", h.record)
}

func (h *Handler) limitBody(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}
	c.Next()
}

func (h *Handler) punch(c *gin.Context) {
	req, err := decodePunch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if req.GroupMode {
		res, err := h.groups.Capture(c.Request.Context(), group.Request{
			Image:     req.Image,
			Direction: req.Direction,
			Threshold: req.Threshold,
			Location:  req.Location,
			ActorID:   auth.ActorID(c),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	res, err := h.punches.Punch(c.Request.Context(), punch.Attempt{
		Direction:  req.Direction,
		EmployeeID: req.EmployeeID,
		Image:      req.Image,
		Location:   req.Location,
		ActorID:    auth.ActorID(c),
		Threshold:  req.Threshold,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, punchPayload(res))
}

func (h *Handler) manual(c *gin.Context) {
	req, err := decodePunch(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.GroupMode {
		writeError(c, apperr.New(apperr.CodeInvalidInput, "group_mode is not supported for manual punches"))
		return
	}
	res, err := h.punches.ManualPunch(c.Request.Context(), punch.Attempt{
		Direction:  req.Direction,
		EmployeeID: req.EmployeeID,
		Image:      req.Image,
		Location:   req.Location,
		ActorID:    auth.ActorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, punchPayload(res))
}

func (h *Handler) record(c *gin.Context) {
	rec, err := h.punches.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record":           rec,
		"state":            rec.State(),
		"duration_minutes": int(rec.Duration() / time.Minute),
	})
}

func punchPayload(res *punch.Result) gin.H {
	body := gin.H{
		"success":       true,
		"attendance_id": res.Record.ID,
		"direction":     res.Direction,
		"state":         res.Record.State(),
		"timestamp":     res.Record.PunchAt(res.Direction),
	}
	if res.Employee != nil {
		body["employee_id"] = res.Employee.ID
		body["employee_name"] = res.Employee.Name
	}
	if res.Match != nil {
		body["face_similarity"] = res.Match.Similarity
		body["face_match_threshold"] = res.Match.Threshold
	}
	p := res.Record.In
	if res.Direction == attendance.Out {
		p = res.Record.Out
	}
	if p.ImageURL != nil {
		body["image_url"] = *p.ImageURL
	}
	return body
}

// writeError renders err as {error, code, details, suggestion} with the status
// derived from its kind.
func writeError(c *gin.Context, err error) {
	e := apperr.From(err)
	status := e.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	body := gin.H{"error": e.Message, "code": e.Code}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	if e.Suggestion != "" {
		body["suggestion"] = e.Suggestion
	}
	if e.Retryable {
		body["retryable"] = true
	}
	c.AbortWithStatusJSON(status, body)
}
