package store

import (
	"context"
	"testing"

	"PulseChat/module/event/model"
	"PulseChat/tools/errs"
)

// 校验在任何存储访问之前完成，非法事件不会碰到集合
func TestAppendValidation(t *testing.T) {
	s := NewEventStoreWithCollection(nil)
	ctx := context.Background()

	cases := []struct {
		name string
		ev   *model.EventRecord
	}{
		{"nil event", nil},
		{"missing tenant", &model.EventRecord{
			EventType: model.EventMessageCreate, EntityType: "message", EntityID: "m1"}},
		{"missing entity type", &model.EventRecord{
			TenantID: "t1", EventType: model.EventMessageCreate, EntityID: "m1"}},
		{"missing entity id", &model.EventRecord{
			TenantID: "t1", EventType: model.EventMessageCreate, EntityType: "message"}},
		{"type outside closed set", &model.EventRecord{
			TenantID: "t1", EventType: "message.exploded", EntityType: "message", EntityID: "m1"}},
	}
	for _, tc := range cases {
		if _, err := s.Append(ctx, tc.ev); err == nil {
			t.Errorf("%s: accepted", tc.name)
		} else if !errs.IsCode(err, errs.CodeValidation) {
			t.Errorf("%s: wrong code: %v", tc.name, err)
		}
	}
}
