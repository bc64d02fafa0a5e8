package reportapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/chuo/core/academic"
)

type academicApi struct {
	service academic.Service
	events  EventSource
}

func registerAcademicAPI(g *echo.Group, svc academic.Service, events EventSource) {
	api := academicApi{service: svc, events: events}

	g.GET("/courses", api.courseList)
	g.GET("/courses/:code", api.courseRetrieve)
	g.GET("/sections", api.sectionList)
	g.GET("/sections/:id", api.sectionRetrieve)
	g.GET("/sections/:id/roster", api.sectionRoster)
	g.GET("/sections/:id/roster.csv", api.sectionRosterCSV)
	g.GET("/terms/:id/stats", api.termStats, adminMiddleware())
	g.GET("/students/:id/transcript", api.studentTranscript, adminMiddleware())
	g.GET("/students/:id/history", api.studentHistory, adminMiddleware())
}

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if !claims.IsAdmin {
				return errForbidden
			}
			return next(ctx)
		}
	}
}

// Handlers

func (api *academicApi) courseList(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.service.Courses())
}

func (api *academicApi) courseRetrieve(ctx echo.Context) error {
	course, err := api.service.Course(ctx.Param("code"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, course)
}

func (api *academicApi) sectionList(ctx echo.Context) error {
	filter := academic.SectionFilter{
		TermID:     ctx.QueryParam("term"),
		CourseCode: ctx.QueryParam("course"),
		Department: ctx.QueryParam("department"),
		TeacherID:  ctx.QueryParam("teacher"),
	}
	if open, err := strconv.ParseBool(ctx.QueryParam("open")); err == nil {
		filter.OpenSeatsOnly = open
	}
	return ctx.JSON(http.StatusOK, api.service.Sections(filter))
}

func (api *academicApi) sectionRetrieve(ctx echo.Context) error {
	view, err := api.service.Section(ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, view)
}

// rosterFor loads a roster after the ownership check: teachers see their
// own sections, admins see all.
func (api *academicApi) rosterFor(ctx echo.Context) ([]academic.RosterEntry, string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return nil, "", err
	}
	id := ctx.Param("id")
	if !claims.IsAdmin {
		view, err := api.service.Section(id)
		if err != nil {
			return nil, "", err
		}
		if !claims.IsTeacher || view.TeacherID != claims.Subject {
			return nil, "", errForbidden
		}
	}
	roster, err := api.service.Roster(id)
	return roster, id, err
}

func (api *academicApi) sectionRoster(ctx echo.Context) error {
	roster, _, err := api.rosterFor(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, roster)
}

func (api *academicApi) sectionRosterCSV(ctx echo.Context) error {
	roster, id, err := api.rosterFor(ctx)
	if err != nil {
		return err
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s-roster.csv", id))
	res.WriteHeader(http.StatusOK)

	w := csv.NewWriter(res)
	if err = w.Write([]string{"student_id", "status", "enrolled_at", "score", "level"}); err != nil {
		return err
	}
	for _, entry := range roster {
		score := ""
		if entry.Score != nil {
			score = strconv.FormatFloat(*entry.Score, 'f', 1, 64)
		}
		record := []string{
			entry.StudentID,
			string(entry.Status),
			entry.EnrolledAt.Format("2006-01-02 15:04"),
			score,
			entry.Level,
		}
		if err = w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

type sectionStats struct {
	SectionID string `json:"section_id"`
	Course    string `json:"course"`
	Enrolled  int    `json:"enrolled"`
	Capacity  int    `json:"capacity"`
}

type termStatsResponse struct {
	Term     academic.Term  `json:"term"`
	Sections []sectionStats `json:"sections"`
	Enrolled int            `json:"total_enrolled"`
	Seats    int            `json:"total_capacity"`
}

func (api *academicApi) termStats(ctx echo.Context) error {
	termID := ctx.Param("id")
	term, err := api.service.Term(termID)
	if err != nil {
		return err
	}

	out := termStatsResponse{Term: term}
	for _, view := range api.service.Sections(academic.SectionFilter{TermID: termID}) {
		out.Sections = append(out.Sections, sectionStats{
			SectionID: view.ID,
			Course:    view.CourseCode,
			Enrolled:  view.Enrolled,
			Capacity:  view.Capacity,
		})
		out.Enrolled += view.Enrolled
		out.Seats += view.Capacity
	}
	return ctx.JSON(http.StatusOK, out)
}

type transcriptResponse struct {
	academic.StudentSnapshot
	GPA float64 `json:"gpa"`
}

// studentHistory replays a student's archived events, oldest first. Only
// deployments backed by a persistent archive serve it.
func (api *academicApi) studentHistory(ctx echo.Context) error {
	if api.events == nil {
		return errNotFound
	}
	events, err := api.events.EventsForStudent(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	if events == nil {
		events = []academic.Event{}
	}
	return ctx.JSON(http.StatusOK, events)
}

func (api *academicApi) studentTranscript(ctx echo.Context) error {
	snap := api.service.Snapshot(ctx.Param("id"))
	var gpa float64
	if len(snap.Grades) > 0 {
		for _, g := range snap.Grades {
			gpa += g.GradePoints
		}
		gpa /= float64(len(snap.Grades))
	}
	return ctx.JSON(http.StatusOK, transcriptResponse{StudentSnapshot: snap, GPA: gpa})
}
