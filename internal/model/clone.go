package model

// Clone returns a deep copy of the cluster. Stores hand out clones so callers
// can never mutate shared state behind the version token's back.
func (c *StoryCluster) Clone() *StoryCluster {
	if c == nil {
		return nil
	}
	out := *c
	out.Centroid = append([]float32(nil), c.Centroid...)
	if c.EntityCounts != nil {
		out.EntityCounts = make(map[string]int, len(c.EntityCounts))
		for k, v := range c.EntityCounts {
			out.EntityCounts[k] = v
		}
	}
	out.Signature = c.Signature.clone()
	out.Geo = c.Geo.clone()
	if c.SourceArticles != nil {
		out.SourceArticles = make([]SourceArticle, len(c.SourceArticles))
		for i, sa := range c.SourceArticles {
			sa.Embedding = append([]float32(nil), sa.Embedding...)
			out.SourceArticles[i] = sa
		}
	}
	if c.BreakingDetectedAt != nil {
		t := *c.BreakingDetectedAt
		out.BreakingDetectedAt = &t
	}
	return &out
}

func (s *EventSignature) clone() *EventSignature {
	if s == nil {
		return nil
	}
	out := *s
	out.Actions = append([]string(nil), s.Actions...)
	out.EventTypes = append([]string(nil), s.EventTypes...)
	out.Entities = append([]string(nil), s.Entities...)
	return &out
}

func (g *GeoFeatures) clone() *GeoFeatures {
	if g == nil {
		return nil
	}
	out := *g
	out.Locations = append([]Location(nil), g.Locations...)
	out.Hierarchy = append([]string(nil), g.Hierarchy...)
	if g.PrimaryLocation != nil {
		loc := *g.PrimaryLocation
		out.PrimaryLocation = &loc
	}
	return &out
}
