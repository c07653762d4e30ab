package lightbake

import (
	"math"

	"github.com/gekko3d/lightbake/gi/core"
)

func cosf(radians float32) float32 {
	return float32(math.Cos(float64(radians)))
}

// Build-side light records pair the component pointer with the parameter
// snapshot taken at registration. Mutating the component afterwards does not
// affect the bake until it is re-registered.

type directionalLightBuildInfo struct {
	Component *DirectionalLightComponent
	State     core.DirectionalLightRenderState
}

type pointLightBuildInfo struct {
	Component *PointLightComponent
	State     core.PointLightRenderState
}

type spotLightBuildInfo struct {
	Component *SpotLightComponent
	State     core.SpotLightRenderState
}

type rectLightBuildInfo struct {
	Component *RectLightComponent
	State     core.RectLightRenderState
}

type lightRegistry struct {
	directionals core.EntityArray[directionalLightBuildInfo]
	points       core.EntityArray[pointLightBuildInfo]
	spots        core.EntityArray[spotLightBuildInfo]
	rects        core.EntityArray[rectLightBuildInfo]

	registeredDirectional map[*DirectionalLightComponent]core.ElementID
	registeredPoint       map[*PointLightComponent]core.ElementID
	registeredSpot        map[*SpotLightComponent]core.ElementID
	registeredRect        map[*RectLightComponent]core.ElementID

	skyLight *SkyLightComponent
}

func (r *lightRegistry) init() {
	r.registeredDirectional = map[*DirectionalLightComponent]core.ElementID{}
	r.registeredPoint = map[*PointLightComponent]core.ElementID{}
	r.registeredSpot = map[*SpotLightComponent]core.ElementID{}
	r.registeredRect = map[*RectLightComponent]core.ElementID{}
}

func snapshotDirectionalLight(c *DirectionalLightComponent) core.DirectionalLightRenderState {
	return core.DirectionalLightRenderState{
		Guid:             c.Guid,
		Color:            c.Color,
		Direction:        c.Direction,
		LightSourceAngle: c.LightSourceAngle,
		ShadowMapChannel: c.ShadowMapChannel,
		Stationary:       c.IsStationary(),
	}
}

func snapshotPointLight(c *PointLightComponent) core.PointLightRenderState {
	return core.PointLightRenderState{
		Guid:              c.Guid,
		Color:             c.Color,
		Position:          c.Position,
		AttenuationRadius: c.AttenuationRadius,
		SourceRadius:      c.SourceRadius,
		ShadowMapChannel:  c.ShadowMapChannel,
		Stationary:        c.IsStationary(),
	}
}

func snapshotSpotLight(c *SpotLightComponent) core.SpotLightRenderState {
	return core.SpotLightRenderState{
		Guid:              c.Guid,
		Color:             c.Color,
		Position:          c.Position,
		Direction:         c.Direction,
		AttenuationRadius: c.AttenuationRadius,
		SourceRadius:      c.SourceRadius,
		CosOuterConeAngle: cosf(c.OuterConeAngle),
		CosInnerConeAngle: cosf(c.InnerConeAngle),
		ShadowMapChannel:  c.ShadowMapChannel,
		Stationary:        c.IsStationary(),
	}
}

func snapshotRectLight(c *RectLightComponent) core.RectLightRenderState {
	return core.RectLightRenderState{
		Guid:              c.Guid,
		Color:             c.Color,
		Position:          c.Position,
		Direction:         c.Direction,
		AttenuationRadius: c.AttenuationRadius,
		SourceWidth:       c.SourceWidth,
		SourceHeight:      c.SourceHeight,
		BarnDoorAngle:     c.BarnDoorAngle,
		BarnDoorLength:    c.BarnDoorLength,
		ShadowMapChannel:  c.ShadowMapChannel,
		Stationary:        c.IsStationary(),
	}
}

// stationaryChannelAssigned gates registration: a stationary light must have
// its shadow map channel before it can enter the scene.
func (s *Scene) stationaryChannelAssigned(name string, base *lightComponentBase) bool {
	if base.IsStationary() && base.ShadowMapChannel == -1 {
		s.log.Warnf("stationary light %s has no shadow map channel, skipping registration (component is probably still spawning)", name)
		return false
	}
	return true
}

// AddLight dispatches on the concrete light component type.
func (s *Scene) AddLight(component any) {
	switch c := component.(type) {
	case *DirectionalLightComponent:
		s.AddDirectionalLight(c)
	case *PointLightComponent:
		s.AddPointLight(c)
	case *SpotLightComponent:
		s.AddSpotLight(c)
	case *RectLightComponent:
		s.AddRectLight(c)
	case *SkyLightComponent:
		s.AddSkyLight(c)
	default:
		s.log.Errorf("unsupported light component type %T", component)
	}
}

func (s *Scene) RemoveLight(component any) {
	switch c := component.(type) {
	case *DirectionalLightComponent:
		s.RemoveDirectionalLight(c)
	case *PointLightComponent:
		s.RemovePointLight(c)
	case *SpotLightComponent:
		s.RemoveSpotLight(c)
	case *RectLightComponent:
		s.RemoveRectLight(c)
	case *SkyLightComponent:
		s.RemoveSkyLight(c)
	default:
		s.log.Errorf("unsupported light component type %T", component)
	}
}

func (s *Scene) AddDirectionalLight(c *DirectionalLightComponent) {
	if _, ok := s.lights.registeredDirectional[c]; ok {
		s.log.Warnf("directional light %s is already registered", c.Name)
		return
	}
	if !s.stationaryChannelAssigned(c.Name, &c.lightComponentBase) {
		return
	}
	state := snapshotDirectionalLight(c)
	id := s.lights.directionals.Emplace(directionalLightBuildInfo{Component: c, State: state})
	s.lights.registeredDirectional[c] = id

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.LightScene.DirectionalLights.Emplace(state)
		rs.eachLightmapMirror(func(lmID core.ElementID, bounds core.Bounds) {
			rs.addLightToLightmap(lmID, lightKindDirectional, id, state.Stationary, state.ShadowMapChannel)
		})
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) RemoveDirectionalLight(c *DirectionalLightComponent) {
	id, ok := s.lights.registeredDirectional[c]
	if !ok {
		s.log.Warnf("directional light %s is not registered", c.Name)
		return
	}
	info := s.lights.directionals.Get(id)
	state := info.State
	s.lights.directionals.RemoveAt(id)
	delete(s.lights.registeredDirectional, c)

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.eachLightmapMirror(func(lmID core.ElementID, _ core.Bounds) {
			rs.removeLightFromLightmap(lmID, lightKindDirectional, id, state.Stationary, state.ShadowMapChannel)
		})
		rs.LightScene.DirectionalLights.RemoveAt(id)
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) AddPointLight(c *PointLightComponent) {
	if _, ok := s.lights.registeredPoint[c]; ok {
		s.log.Warnf("point light %s is already registered", c.Name)
		return
	}
	if !s.stationaryChannelAssigned(c.Name, &c.lightComponentBase) {
		return
	}
	state := snapshotPointLight(c)
	id := s.lights.points.Emplace(pointLightBuildInfo{Component: c, State: state})
	s.lights.registeredPoint[c] = id

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.LightScene.PointLights.Emplace(state)
		rs.eachLightmapMirror(func(lmID core.ElementID, bounds core.Bounds) {
			if state.AffectsBounds(bounds) {
				rs.addLightToLightmap(lmID, lightKindPoint, id, state.Stationary, state.ShadowMapChannel)
			}
		})
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) RemovePointLight(c *PointLightComponent) {
	id, ok := s.lights.registeredPoint[c]
	if !ok {
		s.log.Warnf("point light %s is not registered", c.Name)
		return
	}
	state := s.lights.points.Get(id).State
	s.lights.points.RemoveAt(id)
	delete(s.lights.registeredPoint, c)

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.eachLightmapMirror(func(lmID core.ElementID, _ core.Bounds) {
			rs.removeLightFromLightmap(lmID, lightKindPoint, id, state.Stationary, state.ShadowMapChannel)
		})
		rs.LightScene.PointLights.RemoveAt(id)
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) AddSpotLight(c *SpotLightComponent) {
	if _, ok := s.lights.registeredSpot[c]; ok {
		s.log.Warnf("spot light %s is already registered", c.Name)
		return
	}
	if !s.stationaryChannelAssigned(c.Name, &c.lightComponentBase) {
		return
	}
	state := snapshotSpotLight(c)
	id := s.lights.spots.Emplace(spotLightBuildInfo{Component: c, State: state})
	s.lights.registeredSpot[c] = id

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.LightScene.SpotLights.Emplace(state)
		rs.eachLightmapMirror(func(lmID core.ElementID, bounds core.Bounds) {
			if state.AffectsBounds(bounds) {
				rs.addLightToLightmap(lmID, lightKindSpot, id, state.Stationary, state.ShadowMapChannel)
			}
		})
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) RemoveSpotLight(c *SpotLightComponent) {
	id, ok := s.lights.registeredSpot[c]
	if !ok {
		s.log.Warnf("spot light %s is not registered", c.Name)
		return
	}
	state := s.lights.spots.Get(id).State
	s.lights.spots.RemoveAt(id)
	delete(s.lights.registeredSpot, c)

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.eachLightmapMirror(func(lmID core.ElementID, _ core.Bounds) {
			rs.removeLightFromLightmap(lmID, lightKindSpot, id, state.Stationary, state.ShadowMapChannel)
		})
		rs.LightScene.SpotLights.RemoveAt(id)
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) AddRectLight(c *RectLightComponent) {
	if _, ok := s.lights.registeredRect[c]; ok {
		s.log.Warnf("rect light %s is already registered", c.Name)
		return
	}
	if !s.stationaryChannelAssigned(c.Name, &c.lightComponentBase) {
		return
	}
	state := snapshotRectLight(c)
	id := s.lights.rects.Emplace(rectLightBuildInfo{Component: c, State: state})
	s.lights.registeredRect[c] = id

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.LightScene.RectLights.Emplace(state)
		rs.eachLightmapMirror(func(lmID core.ElementID, bounds core.Bounds) {
			if state.AffectsBounds(bounds) {
				rs.addLightToLightmap(lmID, lightKindRect, id, state.Stationary, state.ShadowMapChannel)
			}
		})
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) RemoveRectLight(c *RectLightComponent) {
	id, ok := s.lights.registeredRect[c]
	if !ok {
		s.log.Warnf("rect light %s is not registered", c.Name)
		return
	}
	state := s.lights.rects.Get(id).State
	s.lights.rects.RemoveAt(id)
	delete(s.lights.registeredRect, c)

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.eachLightmapMirror(func(lmID core.ElementID, _ core.Bounds) {
			rs.removeLightFromLightmap(lmID, lightKindRect, id, state.Stationary, state.ShadowMapChannel)
		})
		rs.LightScene.RectLights.RemoveAt(id)
		rs.LightmapRenderer.BumpRevision()
	})
}

// AddSkyLight registers the sky light singleton. A second sky light evicts
// the first; a sky light without a processed cubemap is rejected.
func (s *Scene) AddSkyLight(c *SkyLightComponent) {
	if !c.HasProcessedCubemap() {
		s.log.Warnf("sky light %s has no processed cubemap, skipping", c.Name)
		return
	}
	if s.lights.skyLight == c {
		s.log.Warnf("sky light %s is already registered", c.Name)
		return
	}
	if s.lights.skyLight != nil {
		s.log.Warnf("a sky light is already registered, replacing %s with %s", s.lights.skyLight.Name, c.Name)
		s.RemoveSkyLight(s.lights.skyLight)
	}
	s.lights.skyLight = c

	state := core.SkyLightRenderState{
		Guid:              c.Guid,
		Color:             c.Color,
		CubemapResolution: c.CubemapResolution,
		ProcessedRadiance: append([]core.LinearColor(nil), c.ProcessedRadiance...),
		IrradianceSH:      c.IrradianceSH,
		CastShadows:       c.CastShadows,
	}
	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.LightScene.SkyLight = &state
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) RemoveSkyLight(c *SkyLightComponent) {
	if s.lights.skyLight != c {
		s.log.Warnf("sky light %s is not registered", c.Name)
		return
	}
	s.lights.skyLight = nil
	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.LightScene.SkyLight = nil
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) removeAllLights() {
	var directionals []*DirectionalLightComponent
	s.lights.directionals.Each(func(_ core.ElementID, info *directionalLightBuildInfo) {
		directionals = append(directionals, info.Component)
	})
	for _, c := range directionals {
		s.RemoveDirectionalLight(c)
	}

	var points []*PointLightComponent
	s.lights.points.Each(func(_ core.ElementID, info *pointLightBuildInfo) {
		points = append(points, info.Component)
	})
	for _, c := range points {
		s.RemovePointLight(c)
	}

	var spots []*SpotLightComponent
	s.lights.spots.Each(func(_ core.ElementID, info *spotLightBuildInfo) {
		spots = append(spots, info.Component)
	})
	for _, c := range spots {
		s.RemoveSpotLight(c)
	}

	var rects []*RectLightComponent
	s.lights.rects.Each(func(_ core.ElementID, info *rectLightBuildInfo) {
		rects = append(rects, info.Component)
	})
	for _, c := range rects {
		s.RemoveRectLight(c)
	}

	if s.lights.skyLight != nil {
		s.RemoveSkyLight(s.lights.skyLight)
	}
}

// attachRelevantLights runs relevance for a freshly mirrored lightmap
// against every registered light. Render thread.
func (rs *SceneRenderState) attachRelevantLights(lmID core.ElementID, bounds core.Bounds) {
	rs.LightScene.DirectionalLights.Each(func(id core.ElementID, l *core.DirectionalLightRenderState) {
		rs.addLightToLightmap(lmID, lightKindDirectional, id, l.Stationary, l.ShadowMapChannel)
	})
	rs.LightScene.PointLights.Each(func(id core.ElementID, l *core.PointLightRenderState) {
		if l.AffectsBounds(bounds) {
			rs.addLightToLightmap(lmID, lightKindPoint, id, l.Stationary, l.ShadowMapChannel)
		}
	})
	rs.LightScene.SpotLights.Each(func(id core.ElementID, l *core.SpotLightRenderState) {
		if l.AffectsBounds(bounds) {
			rs.addLightToLightmap(lmID, lightKindSpot, id, l.Stationary, l.ShadowMapChannel)
		}
	})
	rs.LightScene.RectLights.Each(func(id core.ElementID, l *core.RectLightRenderState) {
		if l.AffectsBounds(bounds) {
			rs.addLightToLightmap(lmID, lightKindRect, id, l.Stationary, l.ShadowMapChannel)
		}
	})
}
