package kv

import (
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/cloudfleet/emulator/cmn"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// serveJSON dispatches a JSON-1.1 request by its X-Amz-Target operation
// suffix (spec.md §6), the same convention every JSON-family service
// handler in this module follows.
func (p *Provider) serveJSON(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get(cmn.HeaderAmzTarget)
	op := target
	if idx := strings.LastIndex(target, "."); idx >= 0 {
		op = target[idx+1:]
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}

	switch op {
	case "CreateTable":
		p.handleCreateTable(w, body)
	case "DeleteTable":
		p.handleDeleteTable(w, body)
	case "DescribeTable":
		p.handleDescribeTable(w, body)
	case "ListTables":
		p.handleListTables(w, body)
	case "PutItem":
		p.handlePutItem(w, body)
	case "GetItem":
		p.handleGetItem(w, body)
	case "DeleteItem":
		p.handleDeleteItem(w, body)
	case "UpdateItem":
		p.handleUpdateItem(w, body)
	case "Query":
		p.handleQuery(w, body)
	case "Scan":
		p.handleScan(w, body)
	case "BatchGetItem":
		p.handleBatchGetItem(w, body)
	case "BatchWriteItem":
		p.handleBatchWriteItem(w, body)
	case "TransactWriteItems":
		p.handleTransactWriteItems(w, body)
	case "TransactGetItems":
		p.handleTransactGetItems(w, body)
	default:
		writeJSONError(w, "UnknownOperationException", "unknown operation "+op, http.StatusBadRequest)
	}
}

func writeJSONError(w http.ResponseWriter, typ, msg string, status int) {
	fe := cmn.NewJSONError(typ, msg, status)
	contentType, respBody := fe.Render()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(fe.StatusCode())
	w.Write(respBody)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := wireJSON.Marshal(v)
	if err != nil {
		writeJSONError(w, "InternalFailure", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(status)
	w.Write(body)
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *cmn.ExistsError:
		writeJSONError(w, "ResourceInUseException", e.Error(), http.StatusBadRequest)
	case *cmn.NotFoundError:
		writeJSONError(w, "ResourceNotFoundException", e.Error(), http.StatusBadRequest)
	case *cmn.ConditionalCheckFailedError:
		writeJSONError(w, "ConditionalCheckFailedException", e.Error(), http.StatusBadRequest)
	case *cmn.ValidationError:
		writeJSONError(w, "ValidationException", e.Error(), http.StatusBadRequest)
	case *transactCanceledError:
		writeJSON(w, http.StatusBadRequest, struct {
			Type          string   `json:"__type"`
			Message       string   `json:"message"`
			CancelReasons []string `json:"CancellationReasons"`
		}{"TransactionCanceledException", "Transaction cancelled", e.Reasons})
	default:
		writeJSONError(w, "InternalFailure", e.Error(), http.StatusInternalServerError)
	}
}

type createTableReq struct {
	TableName             string                   `json:"TableName"`
	KeySchema             []cmn.KeySchemaElement   `json:"KeySchema"`
	AttributeDefinitions  []cmn.AttrDef            `json:"AttributeDefinitions"`
	GlobalSecondaryIndexes []GSI                   `json:"GlobalSecondaryIndexes,omitempty"`
	StreamSpecification   StreamConfig             `json:"StreamSpecification,omitempty"`
}

func (p *Provider) handleCreateTable(w http.ResponseWriter, body []byte) {
	var req createTableReq
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	meta := TableMeta{
		Name:      req.TableName,
		KeySchema: req.KeySchema,
		AttrDefs:  req.AttributeDefinitions,
		GSIs:      req.GlobalSecondaryIndexes,
		Stream:    req.StreamSpecification,
	}
	if err := p.Engine.CreateTable(meta); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		TableDescription TableMeta `json:"TableDescription"`
	}{meta})
}

func (p *Provider) handleDeleteTable(w http.ResponseWriter, body []byte) {
	var req struct {
		TableName string `json:"TableName"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.Engine.DeleteTable(req.TableName); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (p *Provider) handleDescribeTable(w http.ResponseWriter, body []byte) {
	var req struct {
		TableName string `json:"TableName"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	meta, err := p.Engine.DescribeTable(req.TableName)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Table TableMeta `json:"Table"`
	}{meta})
}

func (p *Provider) handleListTables(w http.ResponseWriter, _ []byte) {
	writeJSON(w, http.StatusOK, struct {
		TableNames []string `json:"TableNames"`
	}{p.Engine.ListTables()})
}

type itemReq struct {
	TableName                 string                    `json:"TableName"`
	Item                      cmn.Item                  `json:"Item,omitempty"`
	Key                       cmn.Item                  `json:"Key,omitempty"`
	ConditionExpression       string                    `json:"ConditionExpression,omitempty"`
	UpdateExpression          string                    `json:"UpdateExpression,omitempty"`
	ExpressionAttributeNames  map[string]string         `json:"ExpressionAttributeNames,omitempty"`
	ExpressionAttributeValues map[string]cmn.AttrValue  `json:"ExpressionAttributeValues,omitempty"`
	ReturnValues              string                    `json:"ReturnValues,omitempty"`
}

func (p *Provider) handlePutItem(w http.ResponseWriter, body []byte) {
	var req itemReq
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	prior, err := p.Engine.PutItem(req.TableName, req.Item, req.ConditionExpression, req.ExpressionAttributeNames, req.ExpressionAttributeValues)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := struct {
		Attributes cmn.Item `json:"Attributes,omitempty"`
	}{}
	if req.ReturnValues == "ALL_OLD" {
		resp.Attributes = prior
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) handleGetItem(w http.ResponseWriter, body []byte) {
	var req itemReq
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	item, found, err := p.Engine.GetItem(req.TableName, req.Key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := struct {
		Item cmn.Item `json:"Item,omitempty"`
	}{}
	if found {
		resp.Item = item
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) handleDeleteItem(w http.ResponseWriter, body []byte) {
	var req itemReq
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	prior, err := p.Engine.DeleteItem(req.TableName, req.Key, req.ConditionExpression, req.ExpressionAttributeNames, req.ExpressionAttributeValues)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := struct {
		Attributes cmn.Item `json:"Attributes,omitempty"`
	}{}
	if req.ReturnValues == "ALL_OLD" {
		resp.Attributes = prior
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) handleUpdateItem(w http.ResponseWriter, body []byte) {
	var req itemReq
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	item, err := p.Engine.UpdateItem(req.TableName, req.Key, req.UpdateExpression, req.ConditionExpression, req.ExpressionAttributeNames, req.ExpressionAttributeValues)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := struct {
		Attributes cmn.Item `json:"Attributes,omitempty"`
	}{}
	if req.ReturnValues != "" && req.ReturnValues != "NONE" {
		resp.Attributes = item
	}
	writeJSON(w, http.StatusOK, resp)
}

type queryReq struct {
	TableName                 string                   `json:"TableName"`
	IndexName                 string                   `json:"IndexName,omitempty"`
	KeyConditionExpression    string                   `json:"KeyConditionExpression"`
	FilterExpression          string                   `json:"FilterExpression,omitempty"`
	ExpressionAttributeNames  map[string]string        `json:"ExpressionAttributeNames,omitempty"`
	ExpressionAttributeValues map[string]cmn.AttrValue `json:"ExpressionAttributeValues,omitempty"`
	ScanIndexForward          *bool                    `json:"ScanIndexForward,omitempty"`
	Limit                     int                      `json:"Limit,omitempty"`
	ExclusiveStartKey         cmn.Item                 `json:"ExclusiveStartKey,omitempty"`
}

func (p *Provider) handleQuery(w http.ResponseWriter, body []byte) {
	var req queryReq
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	forward := true
	if req.ScanIndexForward != nil {
		forward = *req.ScanIndexForward
	}
	items, lastKey, err := p.Engine.Query(req.TableName, req.KeyConditionExpression, req.ExpressionAttributeNames, req.ExpressionAttributeValues, req.FilterExpression, forward, req.Limit, req.ExclusiveStartKey)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items            []cmn.Item `json:"Items"`
		Count            int        `json:"Count"`
		LastEvaluatedKey cmn.Item   `json:"LastEvaluatedKey,omitempty"`
	}{items, len(items), lastKey})
}

type scanReq struct {
	TableName                 string                   `json:"TableName"`
	FilterExpression          string                   `json:"FilterExpression,omitempty"`
	ExpressionAttributeNames  map[string]string        `json:"ExpressionAttributeNames,omitempty"`
	ExpressionAttributeValues map[string]cmn.AttrValue `json:"ExpressionAttributeValues,omitempty"`
	Segment                   int                      `json:"Segment,omitempty"`
	TotalSegments             int                      `json:"TotalSegments,omitempty"`
	Limit                     int                      `json:"Limit,omitempty"`
	ExclusiveStartKey         cmn.Item                 `json:"ExclusiveStartKey,omitempty"`
}

func (p *Provider) handleScan(w http.ResponseWriter, body []byte) {
	var req scanReq
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	items, lastKey, err := p.Engine.Scan(req.TableName, req.FilterExpression, req.ExpressionAttributeNames, req.ExpressionAttributeValues, req.Segment, req.TotalSegments, req.Limit, req.ExclusiveStartKey)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items            []cmn.Item `json:"Items"`
		Count            int        `json:"Count"`
		LastEvaluatedKey cmn.Item   `json:"LastEvaluatedKey,omitempty"`
	}{items, len(items), lastKey})
}

func (p *Provider) handleBatchGetItem(w http.ResponseWriter, body []byte) {
	var req struct {
		RequestItems map[string]struct {
			Keys []cmn.Item `json:"Keys"`
		} `json:"RequestItems"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	requests := make(map[string][]cmn.Item, len(req.RequestItems))
	for table, r := range req.RequestItems {
		requests[table] = r.Keys
	}
	results, err := p.Engine.BatchGetItem(requests)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Responses map[string][]cmn.Item `json:"Responses"`
	}{results})
}

func (p *Provider) handleBatchWriteItem(w http.ResponseWriter, body []byte) {
	var req struct {
		RequestItems map[string][]struct {
			PutRequest *struct {
				Item cmn.Item `json:"Item"`
			} `json:"PutRequest,omitempty"`
			DeleteRequest *struct {
				Key cmn.Item `json:"Key"`
			} `json:"DeleteRequest,omitempty"`
		} `json:"RequestItems"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	var ops []BatchWriteItemOp
	for table, reqs := range req.RequestItems {
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				ops = append(ops, BatchWriteItemOp{Table: table, Put: r.PutRequest.Item, IsPut: true})
			case r.DeleteRequest != nil:
				ops = append(ops, BatchWriteItemOp{Table: table, Delete: r.DeleteRequest.Key})
			}
		}
	}
	unprocessed, err := p.Engine.BatchWriteItem(ops)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	unprocessedByTable := make(map[string][]BatchWriteItemOp)
	for _, op := range unprocessed {
		unprocessedByTable[op.Table] = append(unprocessedByTable[op.Table], op)
	}
	writeJSON(w, http.StatusOK, struct {
		UnprocessedItems map[string][]BatchWriteItemOp `json:"UnprocessedItems,omitempty"`
	}{unprocessedByTable})
}

func (p *Provider) handleTransactWriteItems(w http.ResponseWriter, body []byte) {
	var req struct {
		TransactItems []struct {
			Put *struct {
				TableName                 string                   `json:"TableName"`
				Item                      cmn.Item                 `json:"Item"`
				ConditionExpression       string                   `json:"ConditionExpression,omitempty"`
				ExpressionAttributeNames  map[string]string        `json:"ExpressionAttributeNames,omitempty"`
				ExpressionAttributeValues map[string]cmn.AttrValue `json:"ExpressionAttributeValues,omitempty"`
			} `json:"Put,omitempty"`
			Delete *struct {
				TableName                 string                   `json:"TableName"`
				Key                       cmn.Item                 `json:"Key"`
				ConditionExpression       string                   `json:"ConditionExpression,omitempty"`
				ExpressionAttributeNames  map[string]string        `json:"ExpressionAttributeNames,omitempty"`
				ExpressionAttributeValues map[string]cmn.AttrValue `json:"ExpressionAttributeValues,omitempty"`
			} `json:"Delete,omitempty"`
			Update *struct {
				TableName                 string                   `json:"TableName"`
				Key                       cmn.Item                 `json:"Key"`
				UpdateExpression          string                   `json:"UpdateExpression"`
				ConditionExpression       string                   `json:"ConditionExpression,omitempty"`
				ExpressionAttributeNames  map[string]string        `json:"ExpressionAttributeNames,omitempty"`
				ExpressionAttributeValues map[string]cmn.AttrValue `json:"ExpressionAttributeValues,omitempty"`
			} `json:"Update,omitempty"`
			ConditionCheck *struct {
				TableName                 string                   `json:"TableName"`
				Key                       cmn.Item                 `json:"Key"`
				ConditionExpression       string                   `json:"ConditionExpression"`
				ExpressionAttributeNames  map[string]string        `json:"ExpressionAttributeNames,omitempty"`
				ExpressionAttributeValues map[string]cmn.AttrValue `json:"ExpressionAttributeValues,omitempty"`
			} `json:"ConditionCheck,omitempty"`
		} `json:"TransactItems"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}

	items := make([]TransactWriteItem, len(req.TransactItems))
	exprs := make([]TransactExpr, len(req.TransactItems))
	for i, ti := range req.TransactItems {
		switch {
		case ti.Put != nil:
			items[i] = TransactWriteItem{Table: ti.Put.TableName, Put: &ti.Put.Item}
			exprs[i] = TransactExpr{Condition: ti.Put.ConditionExpression, Names: ti.Put.ExpressionAttributeNames, Values: ti.Put.ExpressionAttributeValues}
		case ti.Delete != nil:
			items[i] = TransactWriteItem{Table: ti.Delete.TableName, Delete: ti.Delete.Key}
			exprs[i] = TransactExpr{Condition: ti.Delete.ConditionExpression, Names: ti.Delete.ExpressionAttributeNames, Values: ti.Delete.ExpressionAttributeValues}
		case ti.Update != nil:
			items[i] = TransactWriteItem{Table: ti.Update.TableName, Update: &TransactUpdate{Key: ti.Update.Key, Expression: ti.Update.UpdateExpression}}
			exprs[i] = TransactExpr{Condition: ti.Update.ConditionExpression, Names: ti.Update.ExpressionAttributeNames, Values: ti.Update.ExpressionAttributeValues}
		case ti.ConditionCheck != nil:
			items[i] = TransactWriteItem{Table: ti.ConditionCheck.TableName, Condition: &TransactCondition{Key: ti.ConditionCheck.Key}}
			exprs[i] = TransactExpr{Condition: ti.ConditionCheck.ConditionExpression, Names: ti.ConditionCheck.ExpressionAttributeNames, Values: ti.ConditionCheck.ExpressionAttributeValues}
		}
	}

	if err := p.Engine.TransactWriteItems(items, exprs); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (p *Provider) handleTransactGetItems(w http.ResponseWriter, body []byte) {
	var req struct {
		TransactItems []struct {
			Get struct {
				TableName string   `json:"TableName"`
				Key       cmn.Item `json:"Key"`
			} `json:"Get"`
		} `json:"TransactItems"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	gets := make([]struct {
		Table string
		Key   cmn.Item
	}, len(req.TransactItems))
	for i, ti := range req.TransactItems {
		gets[i] = struct {
			Table string
			Key   cmn.Item
		}{ti.Get.TableName, ti.Get.Key}
	}
	items, err := p.Engine.TransactGetItems(gets)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	type responseItem struct {
		Item cmn.Item `json:"Item,omitempty"`
	}
	responses := make([]responseItem, len(items))
	for i, item := range items {
		responses[i] = responseItem{Item: item}
	}
	writeJSON(w, http.StatusOK, struct {
		Responses []responseItem `json:"Responses"`
	}{responses})
}
