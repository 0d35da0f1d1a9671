package dynamo

import (
	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
)

const (
	drawingPrefix = "DRAWING#"
	projectPrefix = "PROJECT#"
	userPrefix    = "USER#"

	drawingSK  = "META"
	activitySK = "ACTIVITY"
	profileSK  = "PROFILE"

	projectDrawingsIndex = "GSI_ProjectDrawings"
)

type dynamoUser struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Id         string `dynamodbav:"Id"`
	Provider   string `dynamodbav:"Provider"`
	ProviderId string `dynamodbav:"ProviderId"`
	Username   string `dynamodbav:"Username"`
	Created    int64  `dynamodbav:"Created"`
}

func userPK(provider string, providerId string) string {
	return userPrefix + provider + "#" + providerId
}

// Map domain User -> Dynamo
func userToDynamo(u models.User) dynamoUser {
	return dynamoUser{
		PK:         userPK(u.Provider, u.ProviderId),
		SK:         profileSK,
		Id:         u.Id,
		Provider:   u.Provider,
		ProviderId: u.ProviderId,
		Username:   u.Username,
		Created:    u.Created,
	}
}

// Map Dynamo -> domain User
func userFromDynamo(du dynamoUser) models.User {
	return models.User{
		Id:         du.Id,
		Username:   du.Username,
		Provider:   du.Provider,
		ProviderId: du.ProviderId,
		Created:    du.Created,
	}
}

// dynamoDrawing keeps the canvas document on the drawing item itself so a
// save is a single-item write. ProjectId/Created key the GSI_ProjectDrawings
// index.
type dynamoDrawing struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Id          string `dynamodbav:"Id"`
	ProjectId   string `dynamodbav:"ProjectId"`
	Name        string `dynamodbav:"Name"`
	PaperSize   string `dynamodbav:"PaperSize"`
	Orientation string `dynamodbav:"Orientation"`
	CanvasData  []byte `dynamodbav:"CanvasData,omitempty"`
	CreatedBy   string `dynamodbav:"CreatedBy"`
	Created     int64  `dynamodbav:"Created"`
	Updated     int64  `dynamodbav:"Updated"`
	Deleted     int64  `dynamodbav:"Deleted,omitempty"`
}

func drawingPK(drawingId string) string {
	return drawingPrefix + drawingId
}

func drawingToDynamo(d models.Drawing) dynamoDrawing {
	return dynamoDrawing{
		PK:          drawingPK(d.Id),
		SK:          drawingSK,
		Id:          d.Id,
		ProjectId:   d.ProjectId,
		Name:        d.Name,
		PaperSize:   string(d.PaperSize),
		Orientation: string(d.Orientation),
		CanvasData:  d.CanvasData,
		CreatedBy:   d.CreatedBy,
		Created:     d.Created,
		Updated:     d.Updated,
		Deleted:     d.Deleted,
	}
}

func drawingFromDynamo(dd dynamoDrawing) models.Drawing {
	return models.Drawing{
		Id:          dd.Id,
		ProjectId:   dd.ProjectId,
		Name:        dd.Name,
		PaperSize:   canvas.PaperSize(dd.PaperSize),
		Orientation: canvas.Orientation(dd.Orientation),
		CanvasData:  dd.CanvasData,
		CreatedBy:   dd.CreatedBy,
		Created:     dd.Created,
		Updated:     dd.Updated,
		Deleted:     dd.Deleted,
	}
}

type dynamoActivity struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	LastSaved int64  `dynamodbav:"LastSaved"`
	SaveCount int    `dynamodbav:"SaveCount"`
}

func projectPK(projectId string) string {
	return projectPrefix + projectId
}

func activityFromDynamo(projectId string, da dynamoActivity) models.ProjectActivity {
	return models.ProjectActivity{
		ProjectId: projectId,
		LastSaved: da.LastSaved,
		SaveCount: da.SaveCount,
	}
}
