package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"chronicle/annotations/internal/annotate"
	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/export"
	"chronicle/annotations/internal/search"
)

type bodyInput struct {
	Body string `json:"body"`
}

func invalidBody(err error) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name string `json:"name"`
	}
	if err := decodeOptionalBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	session, err := s.service.Login(r.Context(), input.Name)
	s.respond(w, r, http.StatusCreated, session, err)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	err := s.service.Logout(r.Context(), token)
	s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := s.service.ListDocuments(r.Context())
	s.respond(w, r, http.StatusOK, map[string]any{"documents": documents}, err)
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Title  string                     `json:"title"`
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := decodeBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	view, err := s.service.CreateDocument(r.Context(), input.Title, input.Fields)
	s.respond(w, r, http.StatusCreated, view, err)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetDocument(r.Context(), urlParam(r, "documentID"))
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Message string `json:"message"`
	}
	if err := decodeOptionalBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	result, err := s.service.Save(r.Context(), urlParam(r, "documentID"), input.Message)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.History(r.Context(), urlParam(r, "documentID"), queryInt(r, "limit", 50))
	s.respond(w, r, http.StatusOK, history, err)
}

func (s *HTTPServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	content, err := s.service.Version(r.Context(), urlParam(r, "documentID"), urlParam(r, "hash"))
	s.respond(w, r, http.StatusOK, content, err)
}

func (s *HTTPServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	if from == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "from is required", nil)
		return
	}
	changes, err := s.service.Compare(r.Context(), urlParam(r, "documentID"), from, strings.TrimSpace(r.URL.Query().Get("to")))
	s.respond(w, r, http.StatusOK, map[string]any{"changes": changes}, err)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:       strings.TrimSpace(query.Get("q")),
		Kind:       search.Kind(query.Get("kind")),
		DocumentID: query.Get("documentId"),
		Limit:      queryInt(r, "limit", 20),
		Offset:     queryInt(r, "offset", 0),
	}
	switch q.Kind {
	case "", search.KindThread, search.KindSuggestion:
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kind must be thread or suggestion", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Format             string `json:"format"`
		IncludeThreads     *bool  `json:"includeThreads"`
		IncludeSuggestions *bool  `json:"includeSuggestions"`
		Upload             bool   `json:"upload"`
		Paper              string `json:"paper"`
		Landscape          bool   `json:"landscape"`
	}
	if err := decodeOptionalBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	req := export.Request{
		Format:             export.Format(strings.ToLower(strings.TrimSpace(input.Format))),
		IncludeThreads:     input.IncludeThreads == nil || *input.IncludeThreads,
		IncludeSuggestions: input.IncludeSuggestions == nil || *input.IncludeSuggestions,
		Upload:             input.Upload,
		Paper:              export.Paper(strings.ToLower(strings.TrimSpace(input.Paper))),
		Landscape:          input.Landscape,
	}
	if req.Format == "" {
		req.Format = export.FormatHTML
	}

	result, err := s.service.Export(r.Context(), urlParam(r, "documentID"), req)
	if err != nil || req.Upload {
		s.respond(w, r, http.StatusOK, result, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handlePutField(w http.ResponseWriter, r *http.Request) {
	var content json.RawMessage
	if err := decodeBody(r, &content); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	view, err := s.service.PutField(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), content)
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleEdit(w http.ResponseWriter, r *http.Request) {
	var edit annotate.Edit
	if err := decodeBody(r, &edit); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	view, err := s.service.ApplyEdit(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), edit)
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	blockPath, err := parsePath(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	view, err := s.service.Block(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), blockPath)
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleOverlap(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Point   doc.Point     `json:"point"`
		Clicked annotation.ID `json:"clicked"`
	}
	if err := decodeBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	view, err := s.service.Overlap(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), input.Point, input.Clicked)
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleStartDraft(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Range doc.Range `json:"range"`
	}
	if err := decodeBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	view, err := s.service.StartDraft(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), input.Range)
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleCancelDraft(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.CancelDraft(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"))
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleSubmitDraft(w http.ResponseWriter, r *http.Request) {
	var input bodyInput
	if err := decodeBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	result, err := s.service.SubmitDraft(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), input.Body)
	status := http.StatusCreated
	if result.ThreadID == "" {
		status = http.StatusOK
	}
	s.respond(w, r, status, result, err)
}

func (s *HTTPServer) handleCloseThreads(w http.ResponseWriter, r *http.Request) {
	var input struct {
		IDs []annotation.ID `json:"ids"`
	}
	if err := decodeOptionalBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	view, err := s.service.CloseThreads(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), input.IDs)
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := s.service.Thread(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), annotation.ID(urlParam(r, "threadID")))
	s.respond(w, r, http.StatusOK, thread, err)
}

func (s *HTTPServer) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.DeleteThread(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), annotation.ID(urlParam(r, "threadID")))
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleReply(w http.ResponseWriter, r *http.Request) {
	var input bodyInput
	if err := decodeBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	result, err := s.service.Reply(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), annotation.ID(urlParam(r, "threadID")), input.Body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleResolveThread(w http.ResponseWriter, r *http.Request) {
	input := struct {
		Resolved *bool `json:"resolved"`
	}{}
	if err := decodeOptionalBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	resolved := input.Resolved == nil || *input.Resolved
	view, err := s.service.ResolveThread(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), annotation.ID(urlParam(r, "threadID")), resolved)
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var input bodyInput
	if err := decodeBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	view, err := s.service.EditMessage(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"),
		annotation.ID(urlParam(r, "threadID")), urlParam(r, "messageID"), input.Body)
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.DeleteMessage(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"),
		annotation.ID(urlParam(r, "threadID")), urlParam(r, "messageID"))
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *HTTPServer) handleSuggestionDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := s.service.SuggestionDiff(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), annotation.ID(urlParam(r, "suggestionID")))
	s.respond(w, r, http.StatusOK, diff, err)
}

func (s *HTTPServer) handleAcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.AcceptSuggestion(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), annotation.ID(urlParam(r, "suggestionID")))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RejectSuggestion(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), annotation.ID(urlParam(r, "suggestionID")))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleDiscussSuggestion(w http.ResponseWriter, r *http.Request) {
	var input bodyInput
	if err := decodeOptionalBody(r, &input); err != nil {
		s.respond(w, r, 0, nil, invalidBody(err))
		return
	}
	result, err := s.service.DiscussSuggestion(r.Context(), urlParam(r, "documentID"), urlParam(r, "field"), annotation.ID(urlParam(r, "suggestionID")), input.Body)
	s.respond(w, r, http.StatusOK, result, err)
}

// parsePath reads a block path written as comma separated indexes, e.g.
// "0" or "2,1".
func parsePath(value string) (doc.Path, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("path is required")
	}
	parts := strings.Split(value, ",")
	path := make(doc.Path, 0, len(parts))
	for _, part := range parts {
		index, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || index < 0 {
			return nil, fmt.Errorf("invalid path %q", value)
		}
		path = append(path, index)
	}
	return path, nil
}
