package tcpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/academic"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/protocol"
)

var errForbidden = errors.New("permission denied")

// access lists which roles may issue a request kind; open kinds skip
// authentication entirely.
type access struct {
	open    bool
	student bool
	teacher bool
	admin   bool
}

var accessTable = map[string]access{
	protocol.KindLogin: {open: true},
	protocol.KindPing:  {open: true},

	protocol.KindLogout:         {student: true, teacher: true, admin: true},
	protocol.KindChangePassword: {student: true, teacher: true, admin: true},
	protocol.KindListCourses:    {student: true, teacher: true, admin: true},
	protocol.KindListSections:   {student: true, teacher: true, admin: true},

	protocol.KindListMySchedule: {student: true},
	protocol.KindListMyGrades:   {student: true},
	protocol.KindEnroll:         {student: true},
	protocol.KindDrop:           {student: true},
	protocol.KindPlaceBid:       {student: true},
	protocol.KindModifyBid:      {student: true},
	protocol.KindCancelBid:      {student: true},
	protocol.KindBidStatus:      {student: true},
	protocol.KindMyPoints:       {student: true},
	protocol.KindAdvise:         {student: true},

	protocol.KindRoster:      {teacher: true, admin: true},
	protocol.KindRecordGrade: {teacher: true},

	protocol.KindFinalizeTerm: {admin: true},
	protocol.KindSettleBids:   {admin: true},
}

func (a access) allows(claims *user.Claims) bool {
	return (a.student && claims.IsStudent) ||
		(a.teacher && claims.IsTeacher) ||
		(a.admin && claims.IsAdmin)
}

type handlerFunc func(ctx context.Context, sess *session, req protocol.Message) (interface{}, error)

// dispatcher routes a request to its handler behind the authentication
// and authorization gates, and maps errors onto wire error kinds in one
// place so handlers just return their sentinels.
type dispatcher struct {
	conf     *core.Config
	logger   core.Logger
	usrSvc   user.Service
	acadSvc  academic.Service
	advisor  core.AdvisorService
	registry *registry
	shutdown func()

	handlers map[string]handlerFunc
}

func newDispatcher(deps Deps, reg *registry, shutdown func()) *dispatcher {
	d := &dispatcher{
		conf:     deps.Conf,
		logger:   deps.Logger,
		usrSvc:   deps.UserSvc,
		acadSvc:  deps.AcadSvc,
		advisor:  deps.Advisor,
		registry: reg,
		shutdown: shutdown,
	}
	d.handlers = map[string]handlerFunc{
		protocol.KindLogin:          d.handleLogin,
		protocol.KindLogout:         d.handleLogout,
		protocol.KindChangePassword: d.handleChangePassword,
		protocol.KindListCourses:    d.handleListCourses,
		protocol.KindListSections:   d.handleListSections,
		protocol.KindListMySchedule: d.handleListMySchedule,
		protocol.KindListMyGrades:   d.handleListMyGrades,
		protocol.KindEnroll:         d.handleEnroll,
		protocol.KindDrop:           d.handleDrop,
		protocol.KindRoster:         d.handleRoster,
		protocol.KindRecordGrade:    d.handleRecordGrade,
		protocol.KindFinalizeTerm:   d.handleFinalizeTerm,
		protocol.KindPlaceBid:       d.handlePlaceBid,
		protocol.KindModifyBid:      d.handleModifyBid,
		protocol.KindCancelBid:      d.handleCancelBid,
		protocol.KindBidStatus:      d.handleBidStatus,
		protocol.KindMyPoints:       d.handleMyPoints,
		protocol.KindSettleBids:     d.handleSettleBids,
		protocol.KindAdvise:         d.handleAdvise,
		protocol.KindPing:           d.handlePing,
	}
	return d
}

// dispatch always produces a response; the session stays open no matter
// what the request asked for. Only framing violations (handled by the
// read loop) kill the connection.
func (d *dispatcher) dispatch(sess *session, req protocol.Message) protocol.Message {
	if !req.IsRequest() {
		return protocol.NewErrorResponse(req, protocol.ErrKindBadRequest, "not a request")
	}
	rule, known := accessTable[req.Kind]
	if !known {
		return protocol.NewErrorResponse(req, protocol.ErrKindBadRequest, "unknown request kind: "+req.Kind)
	}

	if !rule.open {
		token, _ := sess.credentials()
		if token == "" {
			return protocol.NewErrorResponse(req, protocol.ErrKindUnauthenticated, "login required")
		}
		// revalidate so revocation (forced logout, password change)
		// takes effect mid-session
		claims, err := d.usrSvc.ValidateToken(token)
		if err != nil {
			sess.clearAuth()
			return protocol.NewErrorResponse(req, protocol.ErrKindUnauthenticated, "session expired, login again")
		}
		sess.authenticate(token, claims)
		if !rule.allows(claims) {
			return protocol.NewErrorResponse(req, protocol.ErrKindForbidden, "permission denied")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payload, err := d.handlers[req.Kind](ctx, sess, req)
	if err != nil {
		return d.errorResponse(req, err)
	}
	resp, err := protocol.NewResponse(req, payload)
	if err != nil {
		return d.errorResponse(req, err)
	}
	return resp
}

// errorResponse maps sentinel errors onto wire error kinds.
func (d *dispatcher) errorResponse(req protocol.Message, err error) protocol.Message {
	switch cause := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		fields := make([]protocol.FieldError, 0, len(cause))
		for _, fe := range core.TranslateValidationErrors(cause) {
			fields = append(fields, protocol.FieldError{Field: fe.Field, Error: fe.Error})
		}
		return protocol.NewErrorResponse(req, protocol.ErrKindValidation, "invalid payload", fields...)
	case *core.ValidationError:
		fields := make([]protocol.FieldError, 0, len(cause.Fields))
		for _, fe := range cause.Fields {
			fields = append(fields, protocol.FieldError{Field: fe.Field, Error: fe.Error})
		}
		return protocol.NewErrorResponse(req, protocol.ErrKindValidation, cause.Error(), fields...)
	case *json.SyntaxError, *json.UnmarshalTypeError:
		return protocol.NewErrorResponse(req, protocol.ErrKindBadRequest, "malformed payload")
	}

	cause := errors.Cause(err)
	switch {
	case isAny(cause,
		user.ErrInvalidCredential, user.ErrAccountLocked, user.ErrAccountDeactivated,
		user.ErrTokenExpired, user.ErrTokenRevoked, user.ErrTokenMalformed):
		return protocol.NewErrorResponse(req, protocol.ErrKindUnauthenticated, cause.Error())

	case isAny(cause, errForbidden, academic.ErrNotSectionOwner):
		return protocol.NewErrorResponse(req, protocol.ErrKindForbidden, cause.Error())

	case isAny(cause, user.ErrNotFound,
		academic.ErrCourseNotFound, academic.ErrSectionNotFound, academic.ErrTermNotFound,
		academic.ErrBidNotFound):
		return protocol.NewErrorResponse(req, protocol.ErrKindNotFound, cause.Error())

	case isAny(cause,
		academic.ErrSectionFull, academic.ErrAlreadyEnrolled, academic.ErrScheduleConflict,
		academic.ErrSectionClosed, academic.ErrNotEnrolled, academic.ErrDropWindowClosed,
		academic.ErrTermFinalized, academic.ErrInvalidScore, academic.ErrCapacityBelow,
		academic.ErrInsufficientPoints, academic.ErrBidExists, academic.ErrBiddingClosed,
		academic.ErrInvalidBid):
		return protocol.NewErrorResponse(req, protocol.ErrKindRejected, cause.Error())
	}

	d.logger.Error("unhandled request error", "kind", req.Kind, "err", err)
	if core.IsShutdown(err) {
		d.shutdown()
	}
	return protocol.NewErrorResponse(req, protocol.ErrKindInternal, "internal error")
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// decode unmarshals and validates a request payload.
func decode(req protocol.Message, v interface{}) error {
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, v); err != nil {
			return err
		}
	}
	return core.Validate.Struct(v)
}
