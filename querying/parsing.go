package querying

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidQuery = errors.New("invalid query")

// QueryJson is one query as written in a queries file.
type QueryJson = map[string]interface{}

func ParseQuery(queryJson QueryJson) (Query, error) {
	jsonBytes, err := json.Marshal(queryJson)
	if err != nil {
		return nil, err
	}
	switch queryJson["type"] {
	case "drop_rate":
		var dropRateQuery DropRateQuery
		if err := json.Unmarshal(jsonBytes, &dropRateQuery); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return dropRateQuery, nil
	case "drops":
		var dropReasonQuery DropReasonQuery
		if err := json.Unmarshal(jsonBytes, &dropReasonQuery); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return dropReasonQuery, nil
	case "session":
		var sessionQuery SessionQuery
		if err := json.Unmarshal(jsonBytes, &sessionQuery); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return sessionQuery, nil
	case "range":
		input, ok := queryJson["input"].(QueryJson)
		if !ok {
			return nil, fmt.Errorf("%w: range query without input", ErrInvalidQuery)
		}
		var rangeQuery RangeQuery
		if rangeQuery.Input, err = ParseQuery(input); err != nil {
			return nil, err
		}
		start, _ := queryJson["start"].(float64)
		length, ok := queryJson["length"].(float64)
		if !ok || length <= 0 {
			return nil, fmt.Errorf("%w: range query needs a positive length", ErrInvalidQuery)
		}
		rangeQuery.StartMilliOffset = int(start)
		rangeQuery.Length = int(length)
		return rangeQuery, nil
	default:
		return nil, fmt.Errorf("%w: type %v", ErrInvalidQuery, queryJson["type"])
	}
}

// ParseQueries reads a JSON array of queries.
func ParseQueries(data []byte) ([]Query, error) {
	var raw []QueryJson
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	queries := make([]Query, 0, len(raw))
	for i, q := range raw {
		query, err := ParseQuery(q)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		queries = append(queries, query)
	}
	return queries, nil
}
