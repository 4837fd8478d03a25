package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hevelius/hevelius/internal/utils"
	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/heatmap"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
	"github.com/hevelius/hevelius/pkg/validation"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
	defaultRadius  = 1.0
	defaultTopN    = 10
	maxBodyBytes   = 1 << 20
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validation.Error
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, tasks.ErrInvalidTransition),
		errors.Is(err, tasks.ErrClaimConflict),
		errors.Is(err, tasks.ErrConcurrentUpdate):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		s.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decode(r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return validation.Field(te.Field, "expected %s", te.Type)
		}
		return validation.Field("body", "malformed JSON: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, validation.Field("id", "must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validation.Field(name, "must be an integer, got %q", raw)
	}
	return v, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, validation.Field(name, "must be a number, got %q", raw)
	}
	return &v, nil
}

func queryList(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type taskPage struct {
	Tasks   []storage.Task `json:"tasks"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

// paging reads ?page= (1-based) and ?per_page=.
func paging(r *http.Request) (page, perPage int, err error) {
	if page, err = queryInt(r, "page", 1); err != nil {
		return 0, 0, err
	}
	if page < 1 {
		return 0, 0, validation.Field("page", "must be >= 1")
	}
	if perPage, err = queryInt(r, "per_page", defaultPerPage); err != nil {
		return 0, 0, err
	}
	if perPage < 1 || perPage > maxPerPage {
		return 0, 0, validation.Field("per_page", "must be in [1, %d]", maxPerPage)
	}
	return page, perPage, nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f := storage.TaskFilter{
		Object:     r.URL.Query().Get("object"),
		Descending: r.URL.Query().Get("sort") == "desc",
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}
	for _, st := range queryList(r, "state") {
		f.States = append(f.States, storage.TaskState(st))
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, validation.Field("user_id", "must be an integer, got %q", raw))
			return
		}
		f.UserID = &uid
	}
	for name, dst := range map[string]**float64{"ra_min": &f.RAMin, "ra_max": &f.RAMax, "decl_min": &f.DecMin, "decl_max": &f.DecMax} {
		if *dst, err = queryFloat(r, name); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	list, err := s.tasks.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []storage.Task{}
	}
	writeJSON(w, http.StatusOK, taskPage{Tasks: list, Page: page, PerPage: perPage})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t storage.Task
	if err := decode(r, &t, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if t.UserID == 0 {
		if c, ok := ClaimsFrom(r.Context()); ok {
			t.UserID = c.UserID
		}
	}
	created, err := s.tasks.Create(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/tasks/%d", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type taskPatch struct {
	storage.TaskFields
	State  storage.TaskState `json:"state,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// handleUpdateTask applies field edits and the optional state change as one
// write; a rejected change leaves the task untouched.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var p taskPatch
	if err := decode(r, &p, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.TaskFields.Empty() && p.State == "" {
		s.writeError(w, r, validation.Field("body", "nothing to update"))
		return
	}

	t, err := s.tasks.Edit(r.Context(), id, p.TaskFields, p.State, p.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type planBody struct {
	Date        string   `json:"date"`
	Site        string   `json:"site,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
	MinAlt      *float64 `json:"min_alt,omitempty"`
	SunAlt      *float64 `json:"sun_alt,omitempty"`
	MaxTasks    int      `json:"max_tasks" validate:"gte=0"`
	StepMinutes int      `json:"step_minutes,omitempty" validate:"gte=0,lte=60"`
	DryRun      bool     `json:"dry_run"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var b planBody
	if err := decode(r, &b, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validation.Struct(b); err != nil {
		s.writeError(w, r, err)
		return
	}
	date, err := utils.ParseDate(b.Date, time.Now())
	if err != nil {
		s.writeError(w, r, validation.Field("date", "%v", err))
		return
	}

	req := s.defaults
	req.Site = s.site
	req.Date = date
	if b.Site != "" {
		req.Site.Name = b.Site
	}
	if b.Lat != nil {
		req.Site.Lat = *b.Lat
	}
	if b.Lon != nil {
		req.Site.Lon = *b.Lon
	}
	if b.MinAlt != nil {
		req.MinAlt = *b.MinAlt
	}
	if b.SunAlt != nil {
		req.SunAlt = *b.SunAlt
	}
	if b.StepMinutes > 0 {
		req.Step = time.Duration(b.StepMinutes) * time.Minute
	}
	req.MaxTasks = b.MaxTasks
	req.DryRun = b.DryRun

	plan, err := s.planner.Plan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if plan.DryRun {
		status = http.StatusOK
	}
	writeJSON(w, status, plan)
}

func (s *Server) handleDiscardPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	n, err := s.planner.Discard(r.Context(), planID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plan_id": planID, "released": n})
}

func (s *Server) handleCatalogs(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.Catalogs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []storage.CatalogInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

type objectPage struct {
	Objects []storage.CatalogObject `json:"objects"`
	Page    int                     `json:"page"`
	PerPage int                     `json:"per_page"`
}

// handleCatalogObjects pages through catalog objects, optionally narrowed by
// ?catalog=, ?constellation= and a ?name= substring.
func (s *Server) handleCatalogObjects(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := s.catalog.List(r.Context(), storage.ObjectFilter{
		Catalog:       q.Get("catalog"),
		Constellation: q.Get("constellation"),
		Name:          q.Get("name"),
		Limit:         perPage,
		Offset:        (page - 1) * perPage,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []storage.CatalogObject{}
	}
	writeJSON(w, http.StatusOK, objectPage{Objects: list, Page: page, PerPage: perPage})
}

type searchResult struct {
	Center  sky.Point              `json:"center"`
	Radius  float64                `json:"radius"`
	Object  *storage.CatalogObject `json:"object,omitempty"`
	Matches []catalog.Match        `json:"matches"`
}

// center reads either ?name= or ?ra=&decl=. RA follows sky.ParseRA: hours
// unless suffixed with "d".
func (s *Server) center(r *http.Request) (sky.Point, *storage.CatalogObject, error) {
	q := r.URL.Query()
	if name := q.Get("name"); name != "" {
		obj, err := s.catalog.Resolve(r.Context(), name)
		if err != nil {
			return sky.Point{}, nil, err
		}
		return sky.Point{RA: obj.RA, Dec: obj.Dec}, &obj, nil
	}
	if q.Get("ra") == "" || q.Get("decl") == "" {
		return sky.Point{}, nil, validation.Field("name", "either name or ra and decl are required")
	}
	ra, err := sky.ParseRA(q.Get("ra"))
	if err != nil {
		return sky.Point{}, nil, err
	}
	dec, err := sky.ParseDec(q.Get("decl"))
	if err != nil {
		return sky.Point{}, nil, err
	}
	return sky.Point{RA: ra, Dec: dec}, nil, nil
}

func radius(r *http.Request) (float64, error) {
	v, err := queryFloat(r, "radius")
	if err != nil || v == nil {
		return defaultRadius, err
	}
	return *v, nil
}

func (s *Server) handleCatalogSearch(w http.ResponseWriter, r *http.Request) {
	rad, err := radius(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	center, obj, err := s.center(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	matches, err := s.catalog.Search(r.Context(), center, rad, queryList(r, "catalog")...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []catalog.Match{}
	}
	writeJSON(w, http.StatusOK, searchResult{Center: center, Radius: rad, Object: obj, Matches: matches})
}

type frameResult struct {
	Center sky.Point            `json:"center"`
	Radius float64              `json:"radius"`
	Frames []catalog.FrameMatch `json:"frames"`
}

func (s *Server) handleFrameSearch(w http.ResponseWriter, r *http.Request) {
	rad, err := radius(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	center, _, err := s.center(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	frames, err := s.catalog.FramesNear(r.Context(), center, rad)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if frames == nil {
		frames = []catalog.FrameMatch{}
	}
	writeJSON(w, http.StatusOK, frameResult{Center: center, Radius: rad, Frames: frames})
}

type heatCell struct {
	heatmap.CellCount
	Center sky.Point `json:"center"`
	Area   float64   `json:"area"`
}

type heatResult struct {
	*heatmap.Map
	Cells []heatCell `json:"cells"`
	Dense [][]int    `json:"dense,omitempty"`
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	res, err := queryFloat(r, "resolution")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resolution := heatmap.DefaultResolution
	if res != nil {
		resolution = *res
	}
	top, err := queryInt(r, "top", defaultTopN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	minFrames, err := queryInt(r, "min_frames", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	m, err := heatmap.Build(r.Context(), s.frames, resolution)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var counts []heatmap.CellCount
	if minFrames > 0 {
		counts = m.Groups(minFrames)
	} else {
		counts = m.TopN(top)
	}
	out := heatResult{Map: m, Cells: make([]heatCell, 0, len(counts))}
	for _, c := range counts {
		out.Cells = append(out.Cells, heatCell{CellCount: c, Center: m.Center(c.Cell), Area: m.CellArea(c.Cell)})
	}
	if r.URL.Query().Get("dense") == "true" {
		out.Dense = m.Dense()
	}
	writeJSON(w, http.StatusOK, out)
}
