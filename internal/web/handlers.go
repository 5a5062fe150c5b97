package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clustr-io/dataexchange/internal/exchange"
	"github.com/clustr-io/dataexchange/internal/task"
)

// ownerID extracts the acting owner from the X-Owner-ID header. Auth proper
// is out of scope; the gateway in front of this service sets the header.
func ownerID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Owner-ID")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing X-Owner-ID header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid X-Owner-ID header")
	}
	return id, nil
}

// userID extracts the acting user from the X-User-ID header. The header is
// optional; the dispatcher falls back to the owner when it is absent.
func userID(r *http.Request) uuid.UUID {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func formBool(r *http.Request, name string, fallback bool) bool {
	raw := r.FormValue(name)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

// dispatchResponse is the JSON envelope for import/export dispatches. The
// result field is present only when the job finished within the request.
type dispatchResponse struct {
	Task   *task.Task `json:"task"`
	Result any        `json:"result,omitempty"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return
	}
	contentType := chi.URLParam(r, "contentType")

	r.Body = http.MaxBytesReader(w, r.Body, s.exchange.MaxFileSize+1)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid multipart request: " + err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing file field"})
		return
	}

	var mapping exchange.ColumnMapping
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			file.Close()
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid mapping: " + err.Error()})
			return
		}
	}
	if len(mapping) == 0 {
		file.Close()
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "mapping is required"})
		return
	}

	dialingCode := r.FormValue("default_dialing_code")
	if dialingCode == "" {
		dialingCode = s.exchange.DefaultDialingCode
	}

	req := exchange.ImportDispatch{
		ImportRequest: exchange.ImportRequest{
			ContentType:        contentType,
			File:               file,
			FileName:           header.Filename,
			FileSize:           header.Size,
			Format:             exchange.FileFormat(r.FormValue("format")),
			Mapping:            mapping,
			HasHeaders:         formBool(r, "has_headers", true),
			Upsert:             formBool(r, "upsert", false),
			DefaultDialingCode: dialingCode,
		},
		OwnerID:         owner,
		CreatedBy:       userID(r),
		ForceAsync:      formBool(r, "force_async", false),
		NotifyOnSuccess: formBool(r, "notify_on_success", false),
	}

	t, result, err := s.dispatcher.DispatchImport(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := dispatchResponse{Task: t}
	status := http.StatusAccepted
	if result != nil {
		resp.Result = result
		status = http.StatusOK
		// A batch that produced nothing but errors is a client problem.
		if result.Failed() {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, resp)
}

type exportRequestBody struct {
	Format          string   `json:"format"`
	Location        string   `json:"location"`
	Attributes      []string `json:"attributes"`
	IDs             []string `json:"ids"`
	OrderBy         string   `json:"order_by"`
	ForceAsync      bool     `json:"force_async"`
	NotifyOnSuccess bool     `json:"notify_on_success"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return
	}
	contentType := chi.URLParam(r, "contentType")

	var body exportRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if body.Format == "" {
		body.Format = string(exchange.FormatCSV)
	}
	location := exchange.StorageLocation(body.Location)
	if location == "" {
		location = exchange.LocationMemory
	}

	req := exchange.ExportDispatch{
		ExportRequest: exchange.ExportRequest{
			ContentType: contentType,
			Format:      exchange.FileFormat(body.Format),
			Attributes:  body.Attributes,
			Location:    location,
			Query: exchange.QueryDescription{
				ContentType: contentType,
				IDs:         body.IDs,
				OrderBy:     body.OrderBy,
			},
		},
		OwnerID:         owner,
		CreatedBy:       userID(r),
		ForceAsync:      body.ForceAsync,
		NotifyOnSuccess: body.NotifyOnSuccess,
	}

	t, output, err := s.dispatcher.DispatchExport(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	// A synchronous memory export is served directly as the file.
	if output != nil && len(output.Data) > 0 {
		serveAttachment(w, output.FileName, output.MimeType, output.Data)
		return
	}

	status := http.StatusAccepted
	if output != nil {
		status = http.StatusOK
	}
	writeJSON(w, status, dispatchResponse{Task: t})
}

func (s *Server) handleImportTemplate(w http.ResponseWriter, r *http.Request) {
	contentType := chi.URLParam(r, "contentType")
	def, ok := exchange.Lookup(contentType)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown entity type " + contentType})
		return
	}

	format := exchange.FileFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = exchange.FormatCSV
	}
	if err := exchange.ValidateExportFormat(format); err != nil {
		s.respondError(w, r, err)
		return
	}

	data, err := exchange.WriteRows(def.Attributes, nil, format)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	serveAttachment(w, def.DisplayName+"_import_template"+format.Extension(), format.MimeType(), data)
}

// entityInfo is the JSON shape of one registered entity.
type entityInfo struct {
	ContentType string   `json:"content_type"`
	DisplayName string   `json:"display_name"`
	Attributes  []string `json:"attributes"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	defs := exchange.Entities()
	infos := make([]entityInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, entityInfo{
			ContentType: def.ContentType,
			DisplayName: def.DisplayName,
			Attributes:  def.Attributes,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) taskFromRequest(w http.ResponseWriter, r *http.Request) (*task.Task, uuid.UUID, bool) {
	owner, err := ownerID(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid task ID"})
		return nil, uuid.Nil, false
	}
	t, err := s.tasks.Get(r.Context(), owner, id)
	if err != nil {
		s.respondError(w, r, err)
		return nil, uuid.Nil, false
	}
	return t, owner, true
}

func (s *Server) handleListTasks(kind task.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerID(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
			return
		}
		tasks, err := s.tasks.List(r.Context(), owner, kind)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if tasks == nil {
			tasks = []*task.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, _, ok := s.taskFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	t, owner, ok := s.taskFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.tasks.Delete(r.Context(), owner, t.ID); err != nil {
		s.respondError(w, r, err)
		return
	}
	if s.results != nil {
		s.results.Delete(t.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportFile serves a completed export's bytes. While the task is
// still in progress (or has failed) the current task JSON is returned
// instead, so clients can poll this one URL until the download starts.
func (s *Server) handleExportFile(w http.ResponseWriter, r *http.Request) {
	t, _, ok := s.taskFromRequest(w, r)
	if !ok {
		return
	}
	if t.Status != task.StatusSuccess {
		writeJSON(w, http.StatusOK, t)
		return
	}

	mime := exchange.FileFormat(t.Format).MimeType()
	switch {
	case t.ExternalFileID != nil && s.external != nil:
		data, err := s.external.Download(r.Context(), *t.ExternalFileID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		serveAttachment(w, t.FileName, mime, data)
	case t.FilePath != "":
		data, err := os.ReadFile(t.FilePath)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		serveAttachment(w, t.FileName, mime, data)
	default:
		data, found := s.results.Get(t.ID)
		if !found {
			writeJSON(w, http.StatusGone, ErrorResponse{Error: "export file is no longer available"})
			return
		}
		serveAttachment(w, t.FileName, mime, data)
	}
}

// handleEnableNotify flips notify_on_success on an existing task. Useful
// when the client decides after dispatch that it wants the side effect; the
// notification still fires only on the transition to SUCCESS.
func (s *Server) handleEnableNotify(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid task ID"})
		return
	}
	t, err := s.tasks.SetNotifyOnSuccess(r.Context(), owner, id, true)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func serveAttachment(w http.ResponseWriter, fileName, mime string, data []byte) {
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
