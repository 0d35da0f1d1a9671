package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gofrs/uuid/v5"

	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
	"github.com/zlnvch/surveycanvas/store"
)

// dynamoAPI is the part of *dynamodb.Client the store uses
type dynamoAPI interface {
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type DynamoSurveyStore struct {
	client    dynamoAPI
	tableName string
}

func NewDynamoSurveyStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoSurveyStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoSurveyStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoSurveyStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()

	du := userToDynamo(user)
	du.Created = time.Now().Unix()
	du, _, err = ensureItem(dynamoStore, ctx, du)
	if err != nil {
		return models.User{}, err
	}

	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoSurveyStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	du, err := getItem[dynamoUser](dynamoStore, ctx, userPK(provider, providerId), profileSK, false)
	if err != nil {
		return models.User{}, err
	}

	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoSurveyStore) DeleteUser(ctx context.Context, provider string, providerId string) error {
	return deleteItemWithCondition(dynamoStore, ctx, userPK(provider, providerId), profileSK, "", "")
}

func (dynamoStore *DynamoSurveyStore) CreateDrawing(ctx context.Context, drawing models.Drawing) (models.Drawing, error) {
	dd, created, err := ensureItem(dynamoStore, ctx, drawingToDynamo(drawing))
	if err != nil {
		return models.Drawing{}, err
	}
	if !created {
		return models.Drawing{}, fmt.Errorf("drawing %s already exists: %w", drawing.Id, store.ErrConditionFailed)
	}

	return drawingFromDynamo(dd), nil
}

func (dynamoStore *DynamoSurveyStore) GetDrawing(ctx context.Context, drawingId string) (models.Drawing, error) {
	dd, err := getItem[dynamoDrawing](dynamoStore, ctx, drawingPK(drawingId), drawingSK, true)
	if err != nil {
		return models.Drawing{}, err
	}
	if dd.Deleted != 0 {
		return models.Drawing{}, store.ErrItemNotFound
	}

	return drawingFromDynamo(dd), nil
}

func (dynamoStore *DynamoSurveyStore) ListProjectDrawings(ctx context.Context, projectId string) ([]models.Drawing, error) {
	// Canvas documents can be large, listing never fetches them
	items, err := queryByGSI[dynamoDrawing](
		dynamoStore,
		ctx,
		projectDrawingsIndex,
		"ProjectId",
		projectId,
		"attribute_not_exists(#deleted)",
		"PK, SK, Id, ProjectId, #name, PaperSize, Orientation, CreatedBy, Created, Updated",
		map[string]string{"#deleted": "Deleted", "#name": "Name"},
	)
	if err != nil {
		return nil, err
	}

	drawings := make([]models.Drawing, 0, len(items))
	for _, dd := range items {
		drawings = append(drawings, drawingFromDynamo(dd))
	}

	return drawings, nil
}

func (dynamoStore *DynamoSurveyStore) SoftDeleteDrawing(ctx context.Context, drawingId string, deletedAt int64) error {
	return setFields(dynamoStore, ctx, drawingPK(drawingId), drawingSK, map[string]types.AttributeValue{
		"Deleted": numberValue(deletedAt),
		"Updated": numberValue(deletedAt),
	}, liveItemCondition)
}

// SoftDeleteProjectDrawings marks every live drawing of the project as deleted,
// one conditional write at a time with throttling so a large project does not
// eat the table's write capacity.
func (dynamoStore *DynamoSurveyStore) SoftDeleteProjectDrawings(ctx context.Context, projectId string, deletedAt int64) ([]string, error) {
	drawings, err := dynamoStore.ListProjectDrawings(ctx, projectId)
	if err != nil {
		return nil, err
	}

	deleted := make([]string, 0, len(drawings))
	for _, d := range drawings {
		start := time.Now()

		err := dynamoStore.SoftDeleteDrawing(ctx, d.Id, deletedAt)
		if err != nil && !errors.Is(err, store.ErrItemNotFound) {
			return deleted, fmt.Errorf("soft delete drawing %s: %w", d.Id, err)
		}
		if err == nil {
			deleted = append(deleted, d.Id)
		}

		if err := throttle(ctx, start, 20*time.Millisecond); err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}

func (dynamoStore *DynamoSurveyStore) SaveCanvas(ctx context.Context, drawingId string, canvasData []byte) error {
	return setFields(dynamoStore, ctx, drawingPK(drawingId), drawingSK, map[string]types.AttributeValue{
		"CanvasData": &types.AttributeValueMemberB{Value: canvasData},
		"Updated":    numberValue(time.Now().Unix()),
	}, liveItemCondition)
}

func (dynamoStore *DynamoSurveyStore) LoadCanvas(ctx context.Context, drawingId string) ([]byte, error) {
	drawing, err := dynamoStore.GetDrawing(ctx, drawingId)
	if err != nil {
		return nil, err
	}
	if len(drawing.CanvasData) == 0 {
		return nil, store.ErrItemNotFound
	}

	return drawing.CanvasData, nil
}

func (dynamoStore *DynamoSurveyStore) UpdatePaperFormat(ctx context.Context, drawingId string, format canvas.Format, canvasData []byte) error {
	return setFields(dynamoStore, ctx, drawingPK(drawingId), drawingSK, map[string]types.AttributeValue{
		"PaperSize":   stringValue(string(format.PaperSize)),
		"Orientation": stringValue(string(format.Orientation)),
		"CanvasData":  &types.AttributeValueMemberB{Value: canvasData},
		"Updated":     numberValue(time.Now().Unix()),
	}, liveItemCondition)
}

// AddProjectActivity never moves LastSaved backwards; a late flush from
// another instance only adds its saves.
func (dynamoStore *DynamoSurveyStore) AddProjectActivity(ctx context.Context, projectId string, lastSaved int64, saves int) error {
	pk := projectPK(projectId)
	err := incrementCounter(dynamoStore, ctx, pk, activitySK, "SaveCount", saves, map[string]types.AttributeValue{
		"LastSaved": numberValue(lastSaved),
	}, "attribute_not_exists(#LastSaved) OR #LastSaved < :LastSaved")
	if errors.Is(err, store.ErrConditionFailed) {
		return incrementCounter(dynamoStore, ctx, pk, activitySK, "SaveCount", saves, nil, "")
	}
	return err
}

func (dynamoStore *DynamoSurveyStore) GetProjectActivity(ctx context.Context, projectId string) (models.ProjectActivity, error) {
	da, err := getItem[dynamoActivity](dynamoStore, ctx, projectPK(projectId), activitySK, false)
	if err != nil {
		return models.ProjectActivity{}, err
	}

	return activityFromDynamo(projectId, da), nil
}
