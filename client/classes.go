package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/russross/gradewatch/types"
)

func (c *Client) ListClasses(ctx context.Context) ([]*types.Class, error) {
	list := []*types.Class{}
	if err := c.getObject(ctx, "/classes", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetClass fetches a class with its roster and groups.
func (c *Client) GetClass(ctx context.Context, id int64) (*types.ClassDetail, error) {
	detail := new(types.ClassDetail)
	if err := c.getObject(ctx, idPath("/classes/%d", id), nil, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

func (c *Client) CreateClass(ctx context.Context, name string) (*types.Class, error) {
	req := &types.ClassCreate{Name: name}
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	class := new(types.Class)
	if err := c.postObject(ctx, "/classes", req, class); err != nil {
		return nil, err
	}
	return class, nil
}

// EnrollInClass joins the authenticated student to a class.
func (c *Client) EnrollInClass(ctx context.Context, classID int64, inviteCode string) (*types.Class, error) {
	req := &types.EnrollRequest{InviteCode: inviteCode}
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	class := new(types.Class)
	if err := c.postObject(ctx, idPath("/classes/%d/enroll", classID), req, class); err != nil {
		return nil, err
	}
	return class, nil
}

func (c *Client) RemoveStudent(ctx context.Context, classID, studentID int64) error {
	return c.deleteObject(ctx, fmt.Sprintf("/classes/%d/students/%d", classID, studentID), nil)
}

// ArchiveClass hides a class from new enrollments.
func (c *Client) ArchiveClass(ctx context.Context, classID int64) (*types.Class, error) {
	class := new(types.Class)
	if err := c.patchObject(ctx, idPath("/classes/%d/archive", classID), nil, nil, class); err != nil {
		return nil, err
	}
	return class, nil
}

func (c *Client) CreateGroup(ctx context.Context, classID int64, name string) (*types.Group, error) {
	req := &types.GroupCreate{Name: name}
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	group := new(types.Group)
	if err := c.postObject(ctx, idPath("/classes/%d/groups", classID), req, group); err != nil {
		return nil, err
	}
	return group, nil
}

// AddGroupMembers adds enrolled students to a group and returns the group.
func (c *Client) AddGroupMembers(ctx context.Context, groupID int64, studentIDs []int64) (*types.Group, error) {
	req := &types.GroupMembersRequest{StudentIDs: studentIDs}
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	group := new(types.Group)
	if err := c.postObject(ctx, idPath("/groups/%d/members", groupID), req, group); err != nil {
		return nil, err
	}
	return group, nil
}

// StudentFilter narrows ListStudents; zero fields are ignored.
type StudentFilter struct {
	Search string
	Limit  int
	Offset int
}

// ListStudents pages through the administrative student directory.
func (c *Client) ListStudents(ctx context.Context, filter StudentFilter) (*types.StudentListResponse, error) {
	params := make(url.Values)
	if filter.Search != "" {
		params.Set("search", filter.Search)
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		params.Set("offset", strconv.Itoa(filter.Offset))
	}
	resp := new(types.StudentListResponse)
	if err := c.getObject(ctx, "/admin/students", params, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
