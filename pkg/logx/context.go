package logx

import "context"

type fieldsKey struct{}

// ContextWithFields returns a copy of ctx carrying fields on top of any
// already attached. Entries built with WithContext pick them up, so a
// rollout's identity follows its calls into the agent loop and tool
// dispatch without threading a logger through.
func ContextWithFields(ctx context.Context, fields Fields) context.Context {
	return context.WithValue(ctx, fieldsKey{}, merge(FieldsFromContext(ctx), fields))
}

// FieldsFromContext returns the fields attached to ctx, or nil.
func FieldsFromContext(ctx context.Context) Fields {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}
