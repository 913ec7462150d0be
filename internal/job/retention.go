package job

import "reflect"

// RetainFunc post-processes a completed result before it is stored as the
// job's last result. prev is the previously stored value.
type RetainFunc func(prev, next any) any

// KeepLastN returns a RetainFunc for slice results: the new items are
// appended to the previous ones and only the last n are kept. Non-slice
// results, or slices of a different type, replace the previous value.
func KeepLastN(n int) RetainFunc {
	return func(prev, next any) any {
		nv := reflect.ValueOf(next)
		if n <= 0 || nv.Kind() != reflect.Slice {
			return next
		}
		out := nv
		if pv := reflect.ValueOf(prev); pv.IsValid() && pv.Kind() == reflect.Slice && pv.Type() == nv.Type() {
			out = reflect.MakeSlice(nv.Type(), 0, pv.Len()+nv.Len())
			out = reflect.AppendSlice(out, pv)
			out = reflect.AppendSlice(out, nv)
		}
		if out.Len() > n {
			out = out.Slice(out.Len()-n, out.Len())
		}
		return out.Interface()
	}
}
