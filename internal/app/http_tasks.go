package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) taskRoutes(r chi.Router) {
	r.Post("/", s.createTask)
	r.Get("/", s.listTasks)

	r.Route("/{taskID}", func(r chi.Router) {
		r.Get("/", s.getTask)
		r.Put("/", s.updateTask)
		r.Put("/status", s.updateTaskStatus)
		r.Put("/delete", s.setTaskDeleted(true))
		r.Put("/restore", s.setTaskDeleted(false))
		r.Delete("/", s.hardDeleteTask)
		r.Get("/activities", s.taskActivities)

		r.Route("/comments", s.commentRoutes)
	})
}

type taskBody struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	AssignedTo  *string `json:"assignedTo"`
	DueDate     *string `json:"dueDate"`
}

func (s *HTTPServer) createTask(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body taskBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.service.CreateTask(r.Context(), sessionFrom(r), ids.Project, CreateTaskInput{
		Title:       deref(body.Title),
		Description: deref(body.Description),
		Priority:    deref(body.Priority),
		AssignedTo:  body.AssignedTo,
		DueDate:     body.DueDate,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Task created", task)
}

func (s *HTTPServer) listTasks(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tasks, err := s.service.ListTasks(r.Context(), sessionFrom(r), ids.Project, r.URL.Query().Get("status"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Tasks", tasks)
}

func (s *HTTPServer) getTask(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	task, err := s.service.GetTask(r.Context(), sessionFrom(r), ids.Project, ids.Task)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Task", task)
}

func (s *HTTPServer) updateTask(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body taskBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.service.UpdateTask(r.Context(), sessionFrom(r), ids.Project, ids.Task, UpdateTaskInput(body))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Task updated", task)
}

func (s *HTTPServer) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.service.UpdateTaskStatus(r.Context(), sessionFrom(r), ids.Project, ids.Task, body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Task status updated", task)
}

func (s *HTTPServer) setTaskDeleted(deleted bool) http.HandlerFunc {
	message := "Task restored"
	if deleted {
		message = "Task deleted"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ids, ok := s.ids(w, r)
		if !ok {
			return
		}
		task, err := s.service.SetTaskDeleted(r.Context(), sessionFrom(r), ids.Project, ids.Task, deleted)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, message, task)
	}
}

func (s *HTTPServer) hardDeleteTask(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	if err := s.service.HardDeleteTask(r.Context(), sessionFrom(r), ids.Project, ids.Task); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Task permanently deleted", map[string]string{"id": ids.Task})
}

func (s *HTTPServer) taskActivities(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	feed, err := s.service.TaskActivities(r.Context(), sessionFrom(r), ids.Project, ids.Task, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Task activities", feed)
}
