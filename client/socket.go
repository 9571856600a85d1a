package client

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/russross/gradewatch/types"
)

// StreamSubmission opens a websocket that pushes status replies for one
// submission. The channel closes after a terminal status, when ctx is
// cancelled, or when the connection drops.
func (c *Client) StreamSubmission(ctx context.Context, id int64) (<-chan *types.SubmissionStatusReply, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	path := idPath("/sockets/submissions/%d", id)
	u.Path += path

	headers := make(http.Header)
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}
	if c.apiReport {
		c.log.Infof("DIAL %s", u.String())
	}
	socket, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil && resp.Body != nil {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			return nil, newAPIError(http.MethodGet, path, resp, raw)
		}
		return nil, errors.Wrapf(err, "dialing %s", u.String())
	}

	events := make(chan *types.SubmissionStatusReply)
	go func() {
		defer close(events)
		defer socket.Close()

		// unblock ReadJSON when the caller gives up
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				socket.Close()
			case <-stop:
			}
		}()

		for {
			reply := new(types.SubmissionStatusReply)
			if err := socket.ReadJSON(reply); err != nil {
				if ctx.Err() == nil {
					c.log.WithField("id", id).Debugf("status socket closed: %v", err)
				}
				return
			}
			if c.apiDump {
				c.log.Debugf("socket event: %s", reply.Status)
			}
			select {
			case events <- reply:
			case <-ctx.Done():
				return
			}
			if reply.Status.Terminal() {
				return
			}
		}
	}()
	return events, nil
}
