package types

import "time"

// Class is a teaching group. Students join with its invite code.
type Class struct {
	ID          int64     `json:"id" meddler:"id,pk"`
	Name        string    `json:"name" meddler:"name"`
	ProfessorID int64     `json:"professor_id" meddler:"professor_id"`
	InviteCode  string    `json:"invite_code" meddler:"invite_code"`
	Archived    bool      `json:"archived" meddler:"archived"`
	CreatedAt   time.Time `json:"created_at" meddler:"created_at,localtime"`
}

type ClassStudent struct {
	ID         int64     `json:"id" meddler:"id"`
	Email      string    `json:"email" meddler:"email"`
	EnrolledAt time.Time `json:"enrolled_at" meddler:"enrolled_at,localtime"`
}

type GroupMember struct {
	ID    int64  `json:"id" meddler:"id"`
	Email string `json:"email" meddler:"email"`
}

// Group is a subset of a class that exercise lists can target.
type Group struct {
	ID      int64          `json:"id" meddler:"id,pk"`
	ClassID int64          `json:"class_id" meddler:"class_id"`
	Name    string         `json:"name" meddler:"name"`
	Members []*GroupMember `json:"members" meddler:"-"`
}

// ClassDetail is a class with its roster and groups.
type ClassDetail struct {
	Class
	Students []*ClassStudent `json:"students"`
	Groups   []*Group        `json:"groups"`
}

type ClassCreate struct {
	Name string `json:"name" binding:"required" validate:"required"`
}

type EnrollRequest struct {
	InviteCode string `json:"invite_code" binding:"required" validate:"required"`
}

type GroupCreate struct {
	Name string `json:"name" binding:"required" validate:"required"`
}

type GroupMembersRequest struct {
	StudentIDs []int64 `json:"student_ids" binding:"required" validate:"required,min=1,dive,gt=0"`
}

type StudentProductStatus struct {
	ProductName string `json:"product_name"`
	Status      string `json:"status"`
}

// StudentListItem is one row of the administrative student directory.
type StudentListItem struct {
	Email            string                  `json:"email"`
	Name             string                  `json:"name"`
	Phone            string                  `json:"phone"`
	DiscordConnected bool                    `json:"discord_connected"`
	HasWhatsapp      bool                    `json:"has_whatsapp"`
	HasAccount       bool                    `json:"has_account"`
	Products         []*StudentProductStatus `json:"products"`
}

type StudentListResponse struct {
	Items []*StudentListItem `json:"items"`
	Total int                `json:"total"`
}
