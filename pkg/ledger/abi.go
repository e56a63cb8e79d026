package ledger

// votingSystemABI is the interface of the deployed session registry
const votingSystemABI = `[
  {"type":"function","name":"createSession","stateMutability":"nonpayable",
   "inputs":[{"name":"sessionId","type":"string"},{"name":"choices","type":"string[]"},{"name":"voteMode","type":"uint8"},{"name":"endTime","type":"uint256"},{"name":"maxChoices","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"endSession","stateMutability":"nonpayable",
   "inputs":[{"name":"sessionId","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"castVote","stateMutability":"nonpayable",
   "inputs":[{"name":"sessionId","type":"string"},{"name":"voterId","type":"string"},{"name":"choices","type":"string[]"},{"name":"ranks","type":"uint256[]"},{"name":"weight","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"sessionExists","stateMutability":"view",
   "inputs":[{"name":"sessionId","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"isSessionActive","stateMutability":"view",
   "inputs":[{"name":"sessionId","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getSessionChoices","stateMutability":"view",
   "inputs":[{"name":"sessionId","type":"string"}],
   "outputs":[{"name":"","type":"string[]"}]},
  {"type":"function","name":"getChoiceResult","stateMutability":"view",
   "inputs":[{"name":"sessionId","type":"string"},{"name":"choiceId","type":"string"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getSessionVoteMode","stateMutability":"view",
   "inputs":[{"name":"sessionId","type":"string"}],
   "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"getSessionMaxChoices","stateMutability":"view",
   "inputs":[{"name":"sessionId","type":"string"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"hasVoted","stateMutability":"view",
   "inputs":[{"name":"sessionId","type":"string"},{"name":"voterId","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]}
]`
