package data

import (
	"encoding/json"

	"stratus/model"
)

func marshalDocument(doc model.IDocument) ([]byte, error) {
	return json.Marshal(doc)
}

func unmarshalDocument(kind model.DocumentKind, raw []byte) (model.IDocument, error) {
	doc, err := model.NewDocument(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// softDeleted 软删除文档只能按 ID 寻址，List 一律跳过
func softDeleted(doc model.IDocument) bool {
	sd, ok := doc.(model.ISoftDeletable)
	return ok && sd.IsDeleted()
}
