package controller

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type listSpec struct {
	Limit      int
	FailedOnly bool
}

func parseListSpec(r *http.Request) (listSpec, error) {
	qs := r.URL.Query()
	limit := defaultLimit
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return listSpec{}, errInvalidLimit
		}
		limit = min(n, maxLimit)
	}

	var failed bool
	if v := qs.Get("failed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return listSpec{}, errInvalidFailed
		}
		failed = b
	}

	return listSpec{Limit: limit, FailedOnly: failed}, nil
}

// poolIDVar reads the {id} route variable.
func poolIDVar(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, errInvalidPoolID
	}
	return id, nil
}

var (
	errInvalidLimit  = &parseError{msg: "invalid limit"}
	errInvalidFailed = &parseError{msg: "invalid failed, must be a boolean"}
	errInvalidPoolID = &parseError{msg: "invalid pool id"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
