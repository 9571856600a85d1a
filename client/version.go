package client

import (
	"context"

	"github.com/blang/semver"
	"github.com/pkg/errors"

	"github.com/russross/gradewatch/types"
)

// ErrUpgradeRequired means the server refuses clients this old.
var ErrUpgradeRequired = errors.New("client upgrade required")

func (c *Client) GetVersion(ctx context.Context) (*types.Version, error) {
	v := new(types.Version)
	if err := c.getObject(ctx, "/version", nil, v); err != nil {
		return nil, err
	}
	return v, nil
}

// CheckVersion compares current against the server's requirements.
// Servers that do not publish a version are accepted.
func (c *Client) CheckVersion(ctx context.Context, current string) error {
	server, err := c.GetVersion(ctx)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	mine, err := semver.Parse(current)
	if err != nil {
		return errors.Wrapf(err, "parsing client version %q", current)
	}
	if server.GradeVersionRequired != "" {
		required, err := semver.Parse(server.GradeVersionRequired)
		if err != nil {
			return errors.Wrapf(err, "parsing required version %q", server.GradeVersionRequired)
		}
		if required.GT(mine) {
			return errors.Wrapf(ErrUpgradeRequired, "this is version %s, but the server requires %s or higher", current, required)
		}
	}
	if server.GradeVersionRecommended != "" {
		recommended, err := semver.Parse(server.GradeVersionRecommended)
		if err == nil && recommended.GT(mine) {
			c.log.Warnf("this is version %s, but the server recommends %s or higher; please upgrade as soon as possible", current, recommended)
		}
	}
	return nil
}
