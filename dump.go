package hbm

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString dumps the engine configuration and every live resource
// as a JSON string. Meant for debugging and bug reports.
func (e *Engine) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()

	rootObj := writer.Object()

	configObj := rootObj.Name("Config").Object()
	configObj.Name("StagingMemoryTypeIndex").Int(e.stagingType.Index)
	configObj.Name("StagingMemoryTypeFlags").String(e.stagingType.Flags.String())
	configObj.End()

	e.resourceMutex.Lock()
	defer e.resourceMutex.Unlock()

	rootObj.Name("ResourceCount").Int(e.resources.Count())

	if detailed {
		resArr := rootObj.Name("Resources").Array()
		e.resources.Iter(func(id ResourceID, res *resource) bool {
			o := resArr.Object()
			res.printParameters(&o)
			o.End()
			return false
		})
		resArr.End()
	}

	rootObj.End()

	return string(writer.Bytes())
}

func (r *resource) printParameters(json *jwriter.ObjectState) {
	json.Name("Format").Int(int(r.format))
	json.Name("UseFlags").String(r.use.String())
	json.Name("SoftwareUse").Bool(r.useSW)
	json.Name("HasImplicitFence").Bool(r.implicitFenceFd >= 0)

	if r.staging != nil {
		stagingObj := json.Name("Staging").Object()
		stagingObj.Name("Size").Int(int(r.staging.size))

		offsetArr := stagingObj.Name("Offsets").Array()
		for plane := 0; plane < r.staging.planeCount; plane++ {
			offsetArr.Int(int(r.staging.offsets[plane]))
		}
		offsetArr.End()

		strideArr := stagingObj.Name("Strides").Array()
		for plane := 0; plane < r.staging.planeCount; plane++ {
			strideArr.Int(int(r.staging.strides[plane]))
		}
		strideArr.End()

		stagingObj.End()
	}
}
