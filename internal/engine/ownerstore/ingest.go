package ownerstore

import "Go2NetLog/internal/model"

// Ingest applies one flow record to every owner entry sharing its owner id.
// It returns false, leaving the store untouched, when no owner has that id.
func (s *Store) Ingest(rec *model.FlowRecord) bool {
	index := s.buffer.Lookup(rec.OwnerID)
	if index < 0 {
		return false
	}

	sample := model.Sample{Timestamp: rec.Timestamp, Length: rec.Length}

	var srcKey, dstKey string
	if rec.InInterface != "" {
		srcKey = model.PeerKey(rec.SrcAddr, rec.SrcPort)
	}
	if rec.OutInterface != "" {
		dstKey = model.PeerKey(rec.DstAddr, rec.DstPort)
	}

	// Usually a single iteration; several applications may be grouped under one id.
	for ; index < s.buffer.Len(); index++ {
		o := s.buffer.At(index)
		if o.ID != rec.OwnerID {
			break
		}

		o.record(sample)

		if srcKey != "" {
			p := s.upsert(o, srcKey)
			p.Received.add(rec.SrcAddr, rec.SrcPort, rec.InInterface, sample)
			p.samples = append(p.samples, sample)
		}

		if dstKey != "" {
			p := s.upsert(o, dstKey)
			p.Sent.add(rec.DstAddr, rec.DstPort, rec.OutInterface, sample)
			p.samples = append(p.samples, sample)
		}
	}

	s.changed = true
	return true
}

func (s *Store) upsert(o *Owner, key string) *Peer {
	if _, ok := o.peers[key]; !ok {
		s.peerCount++
	}
	return o.peer(key)
}
