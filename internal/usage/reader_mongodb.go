package usage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoDBReader implements Reader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB usage reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection("usage")}, nil
}

func matchStage(params QueryParams) bson.A {
	pipeline := bson.A{}
	if params.DeviceID != "" {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{
			{Key: "device_id", Value: params.DeviceID},
		}}})
	}
	return pipeline
}

func (r *MongoDBReader) GetSummary(ctx context.Context, params QueryParams) (*Summary, error) {
	pipeline := matchStage(params)

	pipeline = append(pipeline, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: nil},
		{Key: "total_requests", Value: bson.D{{Key: "$sum", Value: 1}}},
		{Key: "total_input", Value: bson.D{{Key: "$sum", Value: "$input_tokens"}}},
		{Key: "total_output", Value: bson.D{{Key: "$sum", Value: "$output_tokens"}}},
		{Key: "total_cost", Value: bson.D{{Key: "$sum", Value: "$cost"}}},
	}}})

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage summary: %w", err)
	}
	defer cursor.Close(ctx)

	summary := &Summary{}
	if cursor.Next(ctx) {
		var result struct {
			TotalRequests int     `bson:"total_requests"`
			TotalInput    int64   `bson:"total_input"`
			TotalOutput   int64   `bson:"total_output"`
			TotalCost     float64 `bson:"total_cost"`
		}
		if err := cursor.Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode usage summary: %w", err)
		}
		summary.TotalRequests = result.TotalRequests
		summary.TotalInputTokens = result.TotalInput
		summary.TotalOutputTokens = result.TotalOutput
		summary.TotalCost = result.TotalCost
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary cursor: %w", err)
	}

	return summary, nil
}

func (r *MongoDBReader) GetModelUsage(ctx context.Context, params QueryParams) ([]ModelUsage, error) {
	pipeline := matchStage(params)

	pipeline = append(pipeline,
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "model", Value: "$model"},
				{Key: "provider", Value: "$provider"},
			}},
			{Key: "requests", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "input_tokens", Value: bson.D{{Key: "$sum", Value: "$input_tokens"}}},
			{Key: "output_tokens", Value: bson.D{{Key: "$sum", Value: "$output_tokens"}}},
			{Key: "cost", Value: bson.D{{Key: "$sum", Value: "$cost"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "cost", Value: -1}}}},
	)

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate model usage: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]ModelUsage, 0)
	for cursor.Next(ctx) {
		var row struct {
			ID struct {
				Model    string `bson:"model"`
				Provider string `bson:"provider"`
			} `bson:"_id"`
			Requests     int     `bson:"requests"`
			InputTokens  int64   `bson:"input_tokens"`
			OutputTokens int64   `bson:"output_tokens"`
			Cost         float64 `bson:"cost"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode model usage row: %w", err)
		}
		result = append(result, ModelUsage{
			Model:        row.ID.Model,
			Provider:     row.ID.Provider,
			Requests:     row.Requests,
			InputTokens:  row.InputTokens,
			OutputTokens: row.OutputTokens,
			Cost:         row.Cost,
		})
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model usage cursor: %w", err)
	}

	return result, nil
}
