package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// streamMaxLen Streams 近似长度上限，避免镜像流无限增长
const streamMaxLen = 10000

// PublishToStream 发布消息到 Redis Streams
func PublishToStream(ctx context.Context, client *redis.Client, stream string, values map[string]interface{}) (string, error) {
	// Streams 字段值统一转换为字符串
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			streamValues[k] = val
		case []byte:
			streamValues[k] = string(val)
		case int:
			streamValues[k] = strconv.Itoa(val)
		case int64:
			streamValues[k] = strconv.FormatInt(val, 10)
		case float64:
			streamValues[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			streamValues[k] = strconv.FormatBool(val)
		default:
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			streamValues[k] = string(jsonBytes)
		}
	}

	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: streamValues,
	}).Result()
}

// PublishJSONToStream 发布 JSON 消息到 Redis Streams
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return PublishToStream(ctx, client, stream, map[string]interface{}{
		"data":      string(jsonBytes),
		"timestamp": time.Now().Unix(),
	})
}
