package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"agent-router/internal/domain"
)

const (
	skPrefixMsg        = "MSG#"
	skMeta             = "META#"
	skPrefixWrite      = "CKPTW#"
	skPrefixCheckpoint = "CKPT#"

	// fixed width so sort keys and cursors order lexically
	tsLayout = "2006-01-02T15:04:05.000000000Z"

	batchWriteLimit = 25
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore keeps every aspect of a conversation in one DynamoDB table
// partition: META# holds the title and latest route, MSG# the history,
// CKPTW# route writes and CKPT# agent checkpoints.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a store on the given table.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for the seq-th message written at ts.
func msgSK(ts time.Time, seq int) string {
	return fmt.Sprintf("%s%s#%d", skPrefixMsg, ts.UTC().Format(tsLayout), seq)
}

func writeSK(ts time.Time, channel string) string {
	return skPrefixWrite + ts.UTC().Format(tsLayout) + "#" + channel
}

func checkpointSK(namespace string) string {
	return skPrefixCheckpoint + namespace
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (c *DynamoStore) GetOrCreate(ctx context.Context, id, userID string) (domain.Conversation, bool, error) {
	if id == "" {
		id = newUUID()
	}
	conv := domain.Conversation{ID: id, UserID: userID, CreatedAt: timeNow()}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                metaItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return conv, true, nil
	}
	if !isConditionFailed(err) {
		return domain.Conversation{}, false, errors.Wrap(err, "repository: GetOrCreate put meta")
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(convPK(id), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, false, errors.Wrap(err, "repository: GetOrCreate get meta")
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, false, errors.Errorf("repository: GetOrCreate: meta for %q vanished", id)
	}
	existing, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, false, errors.Wrap(err, "repository: GetOrCreate decode meta")
	}
	return existing, false, nil
}

// SaveTurn writes both messages, the route write and the meta route in one
// transaction, then sets the title if the thread has none.
func (c *DynamoStore) SaveTurn(ctx context.Context, turn domain.Turn) error {
	if turn.ConversationID == "" {
		return errors.New("repository: SaveTurn: conversation id is required")
	}
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = timeNow()
	}
	pk := convPK(turn.ConversationID)

	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                messageItem(pk, msgSK(ts, 0), domain.RoleUser, turn.Query, ts),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		}},
		{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                messageItem(pk, msgSK(ts, 1), domain.RoleAssistant, turn.Reply, ts),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		}},
	}
	if turn.Route != "" {
		items = append(items,
			types.TransactWriteItem{Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item: map[string]types.AttributeValue{
					"PK":        &types.AttributeValueMemberS{Value: pk},
					"SK":        &types.AttributeValueMemberS{Value: writeSK(ts, "route")},
					"channel":   &types.AttributeValueMemberS{Value: "route"},
					"value":     &types.AttributeValueMemberS{Value: string(turn.Route)},
					"createdAt": &types.AttributeValueMemberS{Value: ts.UTC().Format(tsLayout)},
				},
			}},
			types.TransactWriteItem{Update: &types.Update{
				TableName:        aws.String(c.tableName),
				Key:              key(pk, skMeta),
				UpdateExpression: aws.String("SET #route = :route"),
				ExpressionAttributeNames: map[string]string{
					"#route": "route",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":route": &types.AttributeValueMemberS{Value: string(turn.Route)},
				},
			}},
		)
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return errors.Wrap(err, "repository: SaveTurn")
	}

	if turn.Title == "" {
		return nil
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(pk, skMeta),
		UpdateExpression:    aws.String("SET title = :title"),
		ConditionExpression: aws.String("attribute_exists(PK) AND title = :empty"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":title": &types.AttributeValueMemberS{Value: turn.Title},
			":empty": &types.AttributeValueMemberS{Value: ""},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return errors.Wrap(err, "repository: SaveTurn set title")
	}
	return nil
}

func dynamoCursor(createdAt, id string) string {
	return createdAt + "|" + id
}

// ListConversations scans the META# items and pages over them ordered by
// creation time.
func (c *DynamoStore) ListConversations(ctx context.Context, lastID string, limit int) ([]domain.ConversationSummary, bool, error) {
	if lastID != "" && !strings.Contains(lastID, "|") {
		return nil, false, ErrInvalidCursor
	}

	var (
		metas []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(c.tableName),
			FilterExpression: aws.String("SK = :meta"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":meta": &types.AttributeValueMemberS{Value: skMeta},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, false, errors.Wrap(err, "repository: ListConversations scan")
		}
		metas = append(metas, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	type row struct {
		cursor string
		conv   domain.Conversation
	}
	rows := make([]row, 0, len(metas))
	for _, item := range metas {
		conv, err := itemToConversation(item)
		if err != nil {
			return nil, false, errors.Wrap(err, "repository: ListConversations decode")
		}
		created, _ := strAttr(item, "createdAt")
		cur := dynamoCursor(created, conv.ID)
		if lastID != "" && cur <= lastID {
			continue
		}
		rows = append(rows, row{cursor: cur, conv: conv})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].cursor < rows[j].cursor })

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	items := make([]domain.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		items = append(items, domain.ConversationSummary{
			ID:        r.cursor,
			ThreadID:  r.conv.ID,
			Title:     r.conv.Title,
			CreatedAt: r.conv.CreatedAt,
		})
	}
	return items, hasMore, nil
}

// queryPartition pages through every item of a conversation whose sort key
// starts with prefix, in sort key order.
func (c *DynamoStore) queryPartition(ctx context.Context, conversationID, prefix string, keysOnly bool) ([]map[string]types.AttributeValue, error) {
	var (
		items []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		in := &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: start,
		}
		if prefix != "" {
			in.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
			in.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
		}
		if keysOnly {
			in.ProjectionExpression = aws.String("PK, SK")
		}
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

// GetMessages returns the conversation's messages in chronological order.
func (c *DynamoStore) GetMessages(ctx context.Context, id string) ([]domain.Message, error) {
	items, err := c.queryPartition(ctx, id, skPrefixMsg, false)
	if err != nil {
		return nil, errors.Wrap(err, "repository: GetMessages query")
	}
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, errors.Wrap(err, "repository: GetMessages unmarshal")
		}
		msg.ConversationID = id
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (c *DynamoStore) RenameConversation(ctx context.Context, id, title string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(convPK(id), skMeta),
		UpdateExpression:    aws.String("SET title = :title"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":title": &types.AttributeValueMemberS{Value: title},
		},
	})
	if isConditionFailed(err) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "repository: RenameConversation")
	}
	return nil
}

// storeFor maps a sort key to the logical store it belongs to.
func storeFor(res *domain.DeletionResult, sk string) *domain.StoreDeletion {
	switch {
	case strings.HasPrefix(sk, skPrefixMsg):
		return &res.MessageStore
	case strings.HasPrefix(sk, skPrefixCheckpoint):
		return &res.Checkpoints
	default:
		// META# is the thread_name write
		return &res.CheckpointWrites
	}
}

// DeleteConversation removes the whole partition in batches of 25 and
// attributes each deleted item to its logical store.
func (c *DynamoStore) DeleteConversation(ctx context.Context, id string) domain.DeletionResult {
	var res domain.DeletionResult

	items, err := c.queryPartition(ctx, id, "", true)
	if err != nil {
		msg := storeErr(errors.Wrap(err, "repository: DeleteConversation query"))
		res.MessageStore.Error = msg
		res.CheckpointWrites.Error = msg
		res.Checkpoints.Error = msg
		return res
	}

	for startIdx := 0; startIdx < len(items); startIdx += batchWriteLimit {
		end := min(startIdx+batchWriteLimit, len(items))
		batch := items[startIdx:end]

		reqs := make([]types.WriteRequest, 0, len(batch))
		for _, item := range batch {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
			}})
		}
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.tableName: reqs},
		})

		unprocessed := map[string]bool{}
		if err == nil && out != nil {
			for _, wr := range out.UnprocessedItems[c.tableName] {
				if wr.DeleteRequest == nil {
					continue
				}
				if sk, ok := wr.DeleteRequest.Key["SK"].(*types.AttributeValueMemberS); ok {
					unprocessed[sk.Value] = true
				}
			}
		}

		for _, item := range batch {
			sk, _ := strAttr(item, "SK")
			target := storeFor(&res, sk)
			switch {
			case err != nil:
				target.Error = storeErr(errors.Wrap(err, "repository: DeleteConversation batch"))
			case unprocessed[sk]:
				target.Error = "repository: DeleteConversation: unprocessed items"
			default:
				target.Deleted++
			}
		}
	}
	return res
}

func (c *DynamoStore) LoadCheckpoint(ctx context.Context, threadID, namespace string) (*domain.Checkpoint, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(convPK(threadID), checkpointSK(namespace)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "repository: LoadCheckpoint get item")
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	raw, err := strAttr(out.Item, "checkpoint")
	if err != nil {
		return nil, errors.Wrap(err, "repository: LoadCheckpoint")
	}
	cp := domain.Checkpoint{ThreadID: threadID, Namespace: namespace}
	if err := json.Unmarshal([]byte(raw), &cp.Messages); err != nil {
		return nil, errors.Wrap(err, "repository: LoadCheckpoint decode")
	}
	if n, err := intAttr(out.Item, "messages"); err == nil && n != len(cp.Messages) {
		return nil, errors.Errorf("repository: LoadCheckpoint: expected %d messages, decoded %d", n, len(cp.Messages))
	}
	if updated, err := strAttr(out.Item, "updatedAt"); err == nil {
		cp.UpdatedAt, _ = time.Parse(tsLayout, updated)
	}
	return &cp, nil
}

func (c *DynamoStore) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	if cp.ThreadID == "" || cp.Namespace == "" {
		return errors.New("repository: SaveCheckpoint: thread id and namespace are required")
	}
	raw, err := json.Marshal(cp.Messages)
	if err != nil {
		return errors.Wrap(err, "repository: SaveCheckpoint encode")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = timeNow()
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: convPK(cp.ThreadID)},
			"SK":         &types.AttributeValueMemberS{Value: checkpointSK(cp.Namespace)},
			"checkpoint": &types.AttributeValueMemberS{Value: string(raw)},
			"messages":   &types.AttributeValueMemberN{Value: strconv.Itoa(len(cp.Messages))},
			"updatedAt":  &types.AttributeValueMemberS{Value: cp.UpdatedAt.UTC().Format(tsLayout)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "repository: SaveCheckpoint")
	}
	return nil
}

func metaItem(conv domain.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conv.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
		"userId":         &types.AttributeValueMemberS{Value: conv.UserID},
		"title":          &types.AttributeValueMemberS{Value: conv.Title},
		"route":          &types.AttributeValueMemberS{Value: string(conv.Route)},
		"createdAt":      &types.AttributeValueMemberS{Value: conv.CreatedAt.UTC().Format(tsLayout)},
	}
}

func messageItem(pk, sk, role, content string, ts time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: pk},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"role":      &types.AttributeValueMemberS{Value: role},
		"content":   &types.AttributeValueMemberS{Value: content},
		"createdAt": &types.AttributeValueMemberS{Value: ts.UTC().Format(tsLayout)},
	}
}

// itemToConversation converts a META# attribute map to a Conversation.
func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	userID, _ := strAttr(item, "userId") // allow empty
	title, _ := strAttr(item, "title")
	route, _ := strAttr(item, "route")
	created, _ := strAttr(item, "createdAt")
	createdAt, _ := time.Parse(tsLayout, created)
	return domain.Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Route:     domain.Route(route),
		CreatedAt: createdAt,
	}, nil
}

// itemToMessage converts a MSG# attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	created, _ := strAttr(item, "createdAt")
	ts, _ := time.Parse(tsLayout, created)
	return domain.Message{Role: role, Content: content, Timestamp: ts}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
