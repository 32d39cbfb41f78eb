package httpapi

import (
	"net/http"
	"strings"

	"todoapp.io/internal/audit"
	"todoapp.io/internal/auth"
	"todoapp.io/internal/ids"
	"todoapp.io/internal/todo"
)

type createTodoRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate"`
}

type partnerTodoRequest struct {
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate"`
}

// subject returns the verified caller or writes a 401.
func subject(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "No credential provided")
		return auth.Principal{}, false
	}
	return p, true
}

func (a *API) todos(w http.ResponseWriter, r *http.Request) (todo.Store, bool) {
	if a.svc.Todos == nil {
		writeError(w, r, http.StatusInternalServerError, "Server misconfigured")
		return nil, false
	}
	return a.svc.Todos, true
}

func (a *API) handleListTodos(w http.ResponseWriter, r *http.Request) {
	p, ok := subject(w, r)
	if !ok {
		return
	}
	store, ok := a.todos(w, r)
	if !ok {
		return
	}
	items, err := store.Query(r.Context(), p.Subject)
	if err != nil {
		writeTodoError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, items)
}

func (a *API) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	p, ok := subject(w, r)
	if !ok {
		return
	}
	store, ok := a.todos(w, r)
	if !ok {
		return
	}
	var req createTodoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	item, err := todo.New(p.Subject, todo.Draft{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
	}, todo.CreatedByUser, a.now())
	if err != nil {
		writeTodoError(w, r, err)
		return
	}
	if err := store.Put(r.Context(), item); err != nil {
		writeTodoError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "todo.created", map[string]any{"todoId": item.TodoID})
	writeData(w, http.StatusCreated, item)
}

func (a *API) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	p, ok := subject(w, r)
	if !ok {
		return
	}
	store, ok := a.todos(w, r)
	if !ok {
		return
	}
	id, ok := todoID(w, r)
	if !ok {
		return
	}
	var patch todo.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	patch, err := patch.Normalize()
	if err != nil {
		writeTodoError(w, r, err)
		return
	}
	item, err := store.Update(r.Context(), p.Subject, id, patch, a.now())
	if err != nil {
		writeTodoError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "todo.updated", map[string]any{"todoId": id})
	writeData(w, http.StatusOK, item)
}

func (a *API) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	p, ok := subject(w, r)
	if !ok {
		return
	}
	store, ok := a.todos(w, r)
	if !ok {
		return
	}
	id, ok := todoID(w, r)
	if !ok {
		return
	}
	if err := store.Delete(r.Context(), p.Subject, id); err != nil {
		writeTodoError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "todo.deleted", map[string]any{"todoId": id})
	writeMessage(w, http.StatusOK, "Todo deleted successfully")
}

// todoID reads the path id. Malformed ids cannot name a stored item.
func todoID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("todoId"))
	if !ids.Valid(id) {
		writeTodoError(w, r, todo.ErrNotFound)
		return "", false
	}
	return id, true
}

// handlePartnerCreateTodo lets a verified partner file an item on behalf of a user.
func (a *API) handlePartnerCreateTodo(w http.ResponseWriter, r *http.Request) {
	p, ok := subject(w, r)
	if !ok {
		return
	}
	if !p.IsPartner() {
		writeAuthError(w, r, auth.ErrInvalidToken)
		return
	}
	store, ok := a.todos(w, r)
	if !ok {
		return
	}
	var req partnerTodoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Title) == "" {
		writeError(w, r, http.StatusBadRequest, "Missing required fields")
		return
	}
	item, err := todo.New(req.UserID, todo.Draft{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
	}, todo.CreatedByPartner, a.now())
	if err != nil {
		writeTodoError(w, r, err)
		return
	}
	if err := store.Put(r.Context(), item); err != nil {
		writeTodoError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "partner.todo.created", map[string]any{
		"todoId":  item.TodoID,
		"userId":  item.UserID,
		"partner": p.Username,
	})
	writeData(w, http.StatusCreated, item)
}
