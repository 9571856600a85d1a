package fakeapi

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-martini/martini"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/russross/meddler"

	"github.com/russross/gradewatch/types"
)

// socketSubmissionStatus pushes status replies for one submission,
// advancing it between events, until it is graded.
func (s *Server) socketSubmissionStatus(w http.ResponseWriter, r *http.Request, params martini.Params) {
	id, err := s.parseID(w, "submission_id", params["submission_id"])
	if err != nil {
		return
	}
	var sub *types.Submission
	if err := s.inTx(func(tx *sql.Tx) error {
		sub = new(types.Submission)
		return meddler.Load(tx, "submissions", sub, id)
	}); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Submission", errors.Cause(err))
		return
	}

	socket, err := websocket.Upgrade(w, r, nil, 1024, 1024)
	if err != nil {
		s.loggedHTTPErrorf(w, http.StatusBadRequest, "websocket error: %v", err)
		return
	}
	defer func() {
		socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		socket.Close()
	}()
	log := s.log.WithField("submission", id)

	for {
		if err := socket.WriteJSON(statusReply(sub)); err != nil {
			log.Debugf("socket error writing event: %v", err)
			return
		}
		if sub.Status.Terminal() {
			return
		}

		select {
		case <-time.After(s.opts.PushInterval):
		case <-s.closed:
			return
		}

		if err := s.inTx(func(tx *sql.Tx) error {
			var err error
			sub, err = s.advance(tx, id)
			return err
		}); err != nil {
			log.Errorf("advancing submission: %v", err)
			return
		}
	}
}
