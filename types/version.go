package types

type Version struct {
	Version                 string `json:"version"`
	GradeVersionRequired    string `json:"gradeVersionRequired"`
	GradeVersionRecommended string `json:"gradeVersionRecommended"`
}

var CurrentVersion = Version{
	Version:                 "1.2.0",
	GradeVersionRequired:    "1.0.0",
	GradeVersionRecommended: "1.2.0",
}
