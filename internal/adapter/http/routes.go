package http

import "github.com/go-chi/chi/v5"

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(NoStore)

		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", handleGet(h.Reader.GetTask, "task not found"))
			r.Get("/subtasks", handleListByParam("id", h.Reader.ListSubtasks, "task not found"))
			r.Get("/meetings", h.ListMeetings)
			r.Get("/revision-notes", handleListByParam("id", h.Reader.ListRevisionNotes, "task not found"))

			r.Post("/start", h.StartTask())
			r.Post("/stop", h.StopTask())
			r.Post("/review", h.StartReview())
			r.Post("/remediation", h.ResolveRemediation())
		})

		r.Get("/reports/{id}", handleGet(h.Reader.GetReport, "report not found"))
	})
}
