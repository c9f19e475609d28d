package survey

// PeerStatDoc is the JSON rendering of one reported connection, as served by
// the admin interface and stored by the archive.
type PeerStatDoc struct {
	NodeID           string `json:"nodeId"`
	VersionStr       string `json:"versionStr"`
	MessagesRead     uint64 `json:"messagesRead"`
	MessagesWritten  uint64 `json:"messagesWritten"`
	BytesRead        uint64 `json:"bytesRead"`
	BytesWritten     uint64 `json:"bytesWritten"`
	SecondsConnected uint64 `json:"secondsConnected"`
}

// TopologyDoc is the JSON rendering of one node's topology answer.
type TopologyDoc struct {
	InboundPeers  []PeerStatDoc `json:"inboundPeers"`
	OutboundPeers []PeerStatDoc `json:"outboundPeers"`
}

func peerStatDocs(list PeerStatList) []PeerStatDoc {
	if len(list) == 0 {
		return nil
	}
	docs := make([]PeerStatDoc, 0, len(list))
	for _, stat := range list {
		docs = append(docs, PeerStatDoc{
			NodeID:           stat.NodeID.String(),
			VersionStr:       stat.VersionStr,
			MessagesRead:     stat.MessagesRead,
			MessagesWritten:  stat.MessagesWritten,
			BytesRead:        stat.BytesRead,
			BytesWritten:     stat.BytesWritten,
			SecondsConnected: stat.SecondsConnected,
		})
	}
	return docs
}

// Doc converts the body into its JSON document form.
func (b *TopologyResponseBody) Doc() *TopologyDoc {
	return &TopologyDoc{
		InboundPeers:  peerStatDocs(b.InboundPeers),
		OutboundPeers: peerStatDocs(b.OutboundPeers),
	}
}
